package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/invigo-mfg/invigo-server/internal/repository"
)

// InventoryHandlers serves the four inventories: sheets, components, laser
// cut parts, and coatings.
type InventoryHandlers struct {
	engine *Engine
}

// NewInventoryHandlers creates the inventory handler group.
func NewInventoryHandlers(engine *Engine) *InventoryHandlers {
	return &InventoryHandlers{engine: engine}
}

func decodeDocBody(r *http.Request) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// Sheets

func (h *InventoryHandlers) GetAllSheets(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Sheets.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) GetSheet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.Sheets.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *InventoryHandlers) GetSheetCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.registry.Sheets.GetCategories(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *InventoryHandlers) GetSheetsByCategory(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Sheets.GetByCategory(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) AddSheet(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sheet document")
		return
	}
	id, err := h.engine.registry.Sheets.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *InventoryHandlers) UpdateSheet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sheet document")
		return
	}
	newID, err := h.engine.registry.Sheets.Update(r.Context(), id, doc, modifiedBy(r, ""))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": newID})
}

func (h *InventoryHandlers) DeleteSheet(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, func(id int64) (bool, error) {
		return h.engine.registry.Sheets.Delete(r.Context(), id)
	})
}

// Components

func (h *InventoryHandlers) GetAllComponents(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Components.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) GetComponent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.Components.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *InventoryHandlers) GetComponentCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.registry.Components.GetCategories(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *InventoryHandlers) GetComponentsByCategory(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Components.GetByCategory(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) AddComponent(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid component document")
		return
	}
	id, err := h.engine.registry.Components.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *InventoryHandlers) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid component document")
		return
	}
	newID, err := h.engine.registry.Components.Update(r.Context(), id, doc, modifiedBy(r, ""))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": newID})
}

func (h *InventoryHandlers) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, func(id int64) (bool, error) {
		return h.engine.registry.Components.Delete(r.Context(), id)
	})
}

// Laser cut parts

func (h *InventoryHandlers) GetAllLaserCutParts(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.LaserCutParts.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) GetLaserCutPart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.LaserCutParts.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *InventoryHandlers) GetLaserCutPartCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.registry.LaserCutParts.GetCategories(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *InventoryHandlers) GetLaserCutPartsByCategory(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.LaserCutParts.GetByCategory(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) AddLaserCutPart(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid part document")
		return
	}
	id, err := h.engine.registry.LaserCutParts.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *InventoryHandlers) UpdateLaserCutPart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid part document")
		return
	}
	newID, err := h.engine.registry.LaserCutParts.Update(r.Context(), id, doc, modifiedBy(r, ""))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": newID})
}

// UpdateLaserCutPartQuantities adjusts stock counts for a batch of parts,
// resolving each by part name and creating missing rows on ADD.
func (h *InventoryHandlers) UpdateLaserCutPartQuantities(w http.ResponseWriter, r *http.Request) {
	var req QuantityUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := repository.QuantityOp(req.Operation)
	changedBy := modifiedBy(r, "")
	ids := make([]int64, 0, len(req.Parts))
	for _, part := range req.Parts {
		id, err := h.engine.registry.LaserCutParts.UpsertQuantities(r.Context(), part, op, changedBy)
		if err != nil {
			writeRepoError(w, err)
			return
		}
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ids": ids})
}

func (h *InventoryHandlers) DeleteLaserCutPart(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, func(id int64) (bool, error) {
		return h.engine.registry.LaserCutParts.Delete(r.Context(), id)
	})
}

// Coatings

func (h *InventoryHandlers) GetAllCoatings(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Coatings.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) GetCoating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := h.engine.registry.Coatings.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *InventoryHandlers) GetCoatingCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.registry.Coatings.GetCategories(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *InventoryHandlers) GetCoatingsByCategory(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.registry.Coatings.GetByCategory(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *InventoryHandlers) AddCoating(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coating document")
		return
	}
	id, err := h.engine.registry.Coatings.Add(r.Context(), doc)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *InventoryHandlers) UpdateCoating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	doc, err := decodeDocBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coating document")
		return
	}
	newID, err := h.engine.registry.Coatings.Update(r.Context(), id, doc, modifiedBy(r, ""))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": newID})
}

func (h *InventoryHandlers) DeleteCoating(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, func(id int64) (bool, error) {
		return h.engine.registry.Coatings.Delete(r.Context(), id)
	})
}

func (h *InventoryHandlers) deleteByID(w http.ResponseWriter, r *http.Request, del func(id int64) (bool, error)) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := del(id)
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
