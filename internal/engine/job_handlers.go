package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/invigo-mfg/invigo-server/internal/repository"
)

// JobHandlers serves the quoting-side job store.
type JobHandlers struct {
	engine *Engine
}

// NewJobHandlers creates the job handler group.
func NewJobHandlers(engine *Engine) *JobHandlers {
	return &JobHandlers{engine: engine}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// modifiedBy resolves who made a change, preferring the authenticated user
// over the client-supplied name.
func modifiedBy(r *http.Request, fallback string) string {
	if claims := userFrom(r); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	if fallback != "" {
		return fallback
	}
	if name := r.URL.Query().Get("client_name"); name != "" {
		return name
	}
	return r.RemoteAddr
}

func (h *JobHandlers) GetAll(w http.ResponseWriter, r *http.Request) {
	includeData := r.URL.Query().Get("include_data") == "1"
	jobs, err := h.engine.registry.Jobs.GetAll(r.Context(), includeData)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.engine.registry.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Save accepts the job document either as a multipart/form "job_data"
// field (desktop clients) or as a raw JSON body.
func (h *JobHandlers) Save(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") || strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if strings.HasPrefix(contentType, "multipart/form-data") {
			if err := r.ParseMultipartForm(64 << 20); err != nil {
				writeError(w, http.StatusBadRequest, "invalid multipart body")
				return
			}
		}
		raw := r.FormValue("job_data")
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid job_data field")
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job document")
		return
	}

	id, err := h.engine.registry.Jobs.Save(r.Context(), doc, modifiedBy(r, ""))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	deleted, err := h.engine.registry.Jobs.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeOK(w)
}

// UpdateSetting applies one key/value change to the job document. The form
// value is decoded as JSON when possible so numbers and booleans survive.
func (h *JobHandlers) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	key := r.PostFormValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	raw := r.PostFormValue("value")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	if err := h.engine.registry.Jobs.UpdateSetting(r.Context(), id, key, value, modifiedBy(r, "")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w)
}

func (h *JobHandlers) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	rows, err := h.engine.registry.Jobs.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *JobHandlers) HistoryDiff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	diffs, err := h.engine.registry.Jobs.HistoryDiff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}
