package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/invigo-mfg/invigo-server/internal/storage"
)

// OrderHandlers serves workorders, purchase orders, vendors, and shipping
// addresses.
type OrderHandlers struct {
	engine *Engine
}

// NewOrderHandlers creates the order handler group.
func NewOrderHandlers(engine *Engine) *OrderHandlers {
	return &OrderHandlers{engine: engine}
}

// Workorders. Writes serialize per workorder id, matching the on-disk
// bundle the shop floor pages read.

func (h *OrderHandlers) GetAllWorkorders(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Workorders.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *OrderHandlers) GetWorkorder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.Workorders.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *OrderHandlers) AddWorkorder(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workorder document")
		return
	}
	id, err := h.engine.registry.Workorders.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	h.writeWorkorderBundle(id, doc)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *OrderHandlers) UpdateWorkorder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workorder document")
		return
	}

	release, err := h.engine.locks.Acquire(fmt.Sprintf("workorder_%d", id), storage.DefaultLockTimeout)
	if err != nil {
		if errors.Is(err, storage.ErrLockTimeout) {
			writeError(w, http.StatusServiceUnavailable, "workorder is busy")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer release()

	if err := h.engine.registry.Workorders.Update(r.Context(), id, doc, modifiedBy(r, "")); err != nil {
		writeRepoError(w, err)
		return
	}
	h.writeWorkorderBundle(id, doc)
	writeOK(w)
}

// writeWorkorderBundle mirrors the workorder onto disk for the shop floor
// pages. Disk is best effort; the database row is the authority.
func (h *OrderHandlers) writeWorkorderBundle(id int64, doc map[string]interface{}) {
	path := h.engine.layout.WorkorderDataPath(id)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		h.engine.logger.Warnf("Failed to write workorder bundle %s: %v", path, err)
	}
}

func (h *OrderHandlers) DeleteWorkorder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.engine.registry.Workorders.Delete(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	_ = os.RemoveAll(filepath.Dir(h.engine.layout.WorkorderDataPath(id)))
	writeOK(w)
}

// Purchase orders

func (h *OrderHandlers) GetAllPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.PurchaseOrders.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *OrderHandlers) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.PurchaseOrders.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *OrderHandlers) SavePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid purchase order document")
		return
	}
	id, err := h.engine.registry.PurchaseOrders.Save(r.Context(), doc, modifiedBy(r, ""))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *OrderHandlers) MarkPurchaseOrderEmailSent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.engine.registry.PurchaseOrders.MarkEmailSent(r.Context(), id, modifiedBy(r, "")); err != nil {
		writeRepoError(w, err)
		return
	}
	writeOK(w)
}

func (h *OrderHandlers) DeletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.engine.registry.PurchaseOrders.Delete(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeOK(w)
}

func (h *OrderHandlers) PurchaseOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rows, err := h.engine.registry.PurchaseOrders.History(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Vendors

func (h *OrderHandlers) GetAllVendors(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Vendors.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *OrderHandlers) GetVendor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.Vendors.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *OrderHandlers) AddVendor(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vendor document")
		return
	}
	id, err := h.engine.registry.Vendors.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *OrderHandlers) UpdateVendor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vendor document")
		return
	}
	if err := h.engine.registry.Vendors.Update(r.Context(), id, doc, modifiedBy(r, "")); err != nil {
		writeRepoError(w, err)
		return
	}
	writeOK(w)
}

func (h *OrderHandlers) DeleteVendor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.engine.registry.Vendors.Delete(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeOK(w)
}

// Shipping addresses

func (h *OrderHandlers) GetAllShippingAddresses(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.ShippingAddresses.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *OrderHandlers) GetShippingAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.ShippingAddresses.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *OrderHandlers) AddShippingAddress(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address document")
		return
	}
	id, err := h.engine.registry.ShippingAddresses.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *OrderHandlers) UpdateShippingAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address document")
		return
	}
	if err := h.engine.registry.ShippingAddresses.Update(r.Context(), id, doc, modifiedBy(r, "")); err != nil {
		writeRepoError(w, err)
		return
	}
	writeOK(w)
}

func (h *OrderHandlers) DeleteShippingAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.engine.registry.ShippingAddresses.Delete(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeOK(w)
}
