package engine

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/invigo-mfg/invigo-server/internal/storage"
)

// FileHandlers serves the on-disk workspace bundle (drawings, programs).
type FileHandlers struct {
	engine *Engine
}

// NewFileHandlers creates the file handler group.
func NewFileHandlers(engine *Engine) *FileHandlers {
	return &FileHandlers{engine: engine}
}

// inlineExtensions render in the browser; everything else downloads.
var inlineExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".json": true,
}

// ServeWorkspaceFile streams one workspace file with an mtime/size ETag so
// desktop clients can revalidate cheaply after a change signal.
func (h *FileHandlers) ServeWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.engine.layout.WorkspacePath(mux.Vars(r)["name"]))
}

// ServeImage streams an image from the images directory.
func (h *FileHandlers) ServeImage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.engine.layout.ImagePath(mux.Vars(r)["name"]))
}

func (h *FileHandlers) serve(w http.ResponseWriter, r *http.Request, path string) {
	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	etag := storage.FileETag(info)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	disposition := "attachment"
	if inlineExtensions[strings.ToLower(filepath.Ext(path))] {
		disposition = "inline"
	}

	w.Header().Set("Content-Type", storage.ContentType(path))
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Disposition", disposition+`; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}
