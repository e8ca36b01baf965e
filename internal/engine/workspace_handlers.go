package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/invigo-mfg/invigo-server/internal/broker"
	"github.com/invigo-mfg/invigo-server/internal/workspace"
)

// WorkspaceHandlers serves the workspace tree, the grouped views, and the
// flowtag state transitions.
type WorkspaceHandlers struct {
	engine *Engine
}

// NewWorkspaceHandlers creates the workspace handler group.
func NewWorkspaceHandlers(engine *Engine) *WorkspaceHandlers {
	return &WorkspaceHandlers{engine: engine}
}

func (h *WorkspaceHandlers) GetAllJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.workspace.GetAllJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *WorkspaceHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.engine.workspace.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// AddJob accepts the job document and explodes it into the tree in the
// background. Large jobs take seconds to insert; the desktop client polls
// get_all_jobs afterwards.
func (h *WorkspaceHandlers) AddJob(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job document")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.engine.cfg.PostgresCommandTimeout)
		defer cancel()
		if _, err := h.engine.workspace.AddJob(ctx, doc); err != nil {
			h.engine.logger.Errorf("Background workspace job insert failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
}

func (h *WorkspaceHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	deleted, err := h.engine.workspace.DeleteJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "workspace job not found")
		return
	}
	writeOK(w)
}

func (h *WorkspaceHandlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	entry, err := h.engine.workspace.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *WorkspaceHandlers) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry document")
		return
	}

	if err := h.engine.workspace.UpdateEntry(r.Context(), id, doc, modifiedBy(r, "")); err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.signalFileChanges(r.URL.Query().Get("client_name"), []string{"workspace"})
	writeOK(w)
}

func (h *WorkspaceHandlers) BulkUpdateEntries(w http.ResponseWriter, r *http.Request) {
	var updates []BulkEntryUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bulk update body")
		return
	}
	for _, u := range updates {
		if err := validate.Struct(u); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	docs := make(map[int64]workspace.Document, len(updates))
	for _, u := range updates {
		docs[u.ID] = u.Data
	}

	if err := h.engine.workspace.BulkUpdateEntries(r.Context(), docs, modifiedBy(r, "")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.signalFileChanges(r.URL.Query().Get("client_name"), []string{"workspace"})
	writeOK(w)
}

func (h *WorkspaceHandlers) GetEntriesByName(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID, err := strconv.ParseInt(vars["job_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	entries, err := h.engine.workspace.GetEntriesByName(r.Context(), jobID, vars["name"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *WorkspaceHandlers) GetAllRecutParts(w http.ResponseWriter, r *http.Request) {
	parts, err := h.engine.workspace.GetRecutParts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

func (h *WorkspaceHandlers) GetRecutPartsFromJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	parts, err := h.engine.workspace.GetRecutPartsFromJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

// FindPart is GET /workspace_part: a single-group projection out of one of
// the grouped views.
func (h *WorkspaceHandlers) FindPart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	view, err := parseViewParam(q.Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	find := workspace.FindQuery{
		View:     view,
		Name:     name,
		DataType: q.Get("data_type"),
	}
	if raw := q.Get("job_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job_id")
			return
		}
		find.JobID = id
	}
	if raw := q.Get("flowtag"); raw != "" {
		find.Flowtag = parseFlowtagParam(raw)
	}
	if raw := q.Get("flowtag_index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid flowtag_index")
			return
		}
		find.FlowtagIndex = &idx
	}
	if raw := q.Get("flowtag_status_index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid flowtag_status_index")
			return
		}
		find.FlowtagStatusIndex = &idx
	}

	doc, err := h.engine.workspace.Find(r.Context(), find)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "part not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// parseFlowtagParam accepts either a JSON array or a comma-separated list.
func parseFlowtagParam(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags
	}
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// parseViewParam maps client names ("by_job") onto the view enum.
func parseViewParam(raw string) (workspace.View, error) {
	switch strings.ToLower(raw) {
	case "", "by_job", "grouped_by_job":
		return workspace.ViewGroupedByJob, nil
	case "global", "global_grouped":
		return workspace.ViewGlobalGrouped, nil
	}
	return workspace.ParseView(raw)
}

// UpdatePart is PUT /workspace_part: one atomic flowtag state transition.
func (h *WorkspaceHandlers) UpdatePart(w http.ResponseWriter, r *http.Request) {
	var req WorkspacePartUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := workspace.PartFilter{
		Name:    req.Name,
		Flowtag: req.Flowtag,
		JobID:   req.JobID,
	}
	changedBy := modifiedBy(r, req.ChangedBy)

	var (
		updated int
		err     error
	)
	switch req.DataType {
	case "flowtag_index":
		var newIndex int
		if err := json.Unmarshal(req.NewValue, &newIndex); err != nil {
			writeError(w, http.StatusBadRequest, "new_value must be an integer")
			return
		}
		filter.FlowtagIndex = &req.FlowtagIndex
		updated, err = h.engine.workspace.UpdateFlowtagIndex(r.Context(), filter, newIndex, changedBy)

	case "flowtag_status_index":
		var newStatus int
		if err := json.Unmarshal(req.NewValue, &newStatus); err != nil {
			writeError(w, http.StatusBadRequest, "new_value must be an integer")
			return
		}
		filter.FlowtagIndex = &req.FlowtagIndex
		filter.FlowtagStatusIndex = &req.FlowtagStatusIndex
		updated, err = h.engine.workspace.UpdateFlowtagStatusIndex(r.Context(), filter, newStatus, changedBy)

	case "is_timing":
		var isTiming bool
		if err := json.Unmarshal(req.NewValue, &isTiming); err != nil {
			writeError(w, http.StatusBadRequest, "new_value must be a boolean")
			return
		}
		filter.FlowtagIndex = &req.FlowtagIndex
		updated, err = h.engine.workspace.UpdateIsTiming(r.Context(), filter, isTiming, changedBy)
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updated == 0 {
		writeError(w, http.StatusNotFound, "no matching parts")
		return
	}
	writeOK(w)
}

// Recut is POST /workspace_recut.
func (h *WorkspaceHandlers) Recut(w http.ResponseWriter, r *http.Request) {
	var req RecutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.engine.workspace.HandleRecut(r.Context(), workspace.RecutRequest{
		Name:               req.Name,
		Flowtag:            req.Flowtag,
		FlowtagIndex:       req.FlowtagIndex,
		FlowtagStatusIndex: req.FlowtagStatusIndex,
		Quantity:           req.RecutQuantity,
		Reason:             req.RecutReason,
		ChangedBy:          modifiedBy(r, req.ChangedBy),
		JobID:              req.JobID,
	})
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no matching parts")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "recut": updated})
}

// RecutFinished is POST /workspace_recut_finished.
func (h *WorkspaceHandlers) RecutFinished(w http.ResponseWriter, r *http.Request) {
	var req RecutFinishedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.engine.workspace.HandleRecutFinished(r.Context(), workspace.RecutFinishedRequest{
		Name:               req.Name,
		Flowtag:            req.Flowtag,
		FlowtagIndex:       req.FlowtagIndex,
		FlowtagStatusIndex: req.FlowtagStatusIndex,
		ChangedBy:          modifiedBy(r, req.ChangedBy),
		JobID:              req.JobID,
	})
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no matching recut parts")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "rejoined": updated})
}

// groupedViewWhitelist restricts GET /view/{view_name}.
var groupedViewWhitelist = map[string]workspace.View{
	"view_grouped_laser_cut_parts_by_job": workspace.ViewGroupedByJob,
	"view_grouped_laser_cut_parts_global": workspace.ViewGlobalGrouped,
}

// GroupedView is GET /view/{view_name}?show_completed=0|1.
func (h *WorkspaceHandlers) GroupedView(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["view_name"]
	view, ok := groupedViewWhitelist[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown view")
		return
	}
	showCompleted := r.URL.Query().Get("show_completed") == "1"

	parts, err := h.engine.workspace.GetGroupedPartsView(r.Context(), view, showCompleted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

// signalFileChanges notifies the other desktop clients that files backing
// an entity changed on disk.
func (h *WorkspaceHandlers) signalFileChanges(originator string, files []string) {
	if err := h.engine.hub.SignalClientsForChanges(originator, files, broker.ClassSoftware); err != nil {
		h.engine.logger.Warnf("Failed to signal file changes: %v", err)
	}
}
