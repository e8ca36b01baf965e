package engine

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/invigo-mfg/invigo-server/internal/broker"
	"github.com/invigo-mfg/invigo-server/internal/repository"
	"github.com/invigo-mfg/invigo-server/internal/storage"
)

// downloadChunkSize is the streaming buffer for update artifacts.
const downloadChunkSize = 4 << 20

// SoftwareHandlers serves desktop update distribution: version metadata,
// artifact upload, and chunked download.
type SoftwareHandlers struct {
	engine *Engine
}

// NewSoftwareHandlers creates the software handler group.
func NewSoftwareHandlers(engine *Engine) *SoftwareHandlers {
	return &SoftwareHandlers{engine: engine}
}

// Version is GET /software_version: the newest release.
func (h *SoftwareHandlers) Version(w http.ResponseWriter, r *http.Request) {
	latest, err := h.engine.registry.Software.Latest(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no software versions uploaded")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     latest.Version,
		"file":        filepath.Base(latest.FilePath),
		"uploaded_by": latest.UploadedBy,
		"changelog":   latest.Changelog,
		"created_at":  latest.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// List is GET /software_versions: every release, newest first.
func (h *SoftwareHandlers) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.engine.registry.Software.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// Download is GET /software_update?version=…: streams the artifact in 4 MiB
// chunks. Without a version it serves the newest release.
func (h *SoftwareHandlers) Download(w http.ResponseWriter, r *http.Request) {
	var (
		release *repository.SoftwareVersion
		err     error
	)
	if version := r.URL.Query().Get("version"); version != "" {
		release, err = h.engine.registry.Software.Get(r.Context(), version)
	} else {
		release, err = h.engine.registry.Software.Latest(r.Context())
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	path := h.engine.layout.SoftwarePath(release.Version)
	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact missing on disk")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="Invigo.zip"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			h.engine.logger.Errorf("Failed streaming %s: %v", path, readErr)
			return
		}
	}
}

// Upload is POST /software_upload (multipart: file; form: version,
// uploaded_by, changelog). The artifact lands at software/Invigo-{version}.zip
// and every connected desktop client is told to update.
func (h *SoftwareHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	version := r.FormValue("version")
	if !repository.ValidSemver(version) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid version %q", version))
		return
	}
	uploadedBy := r.FormValue("uploaded_by")
	changelog := r.FormValue("changelog")

	src, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer src.Close()

	release, err := storage.AcquireFileSlot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "server busy")
		return
	}
	defer release()

	path := h.engine.layout.SoftwarePath(version)
	dest, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := dest.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.engine.registry.Software.Add(r.Context(), version, storage.SoftwareFileName(version), uploadedBy, changelog); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.engine.hub.Broadcast(broker.ClassSoftware, map[string]interface{}{
		"action":  "update_available",
		"version": version,
	}); err != nil {
		h.engine.logger.Warnf("Failed to announce version %s: %v", version, err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "version": version})
}
