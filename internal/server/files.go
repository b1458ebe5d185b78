package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/spf13/afero"
)

// fileHandler serves the static app out of fsys. Everything is delegated to
// http.FileServer except direct requests for index.html, which FileServer
// would redirect to "./", and file paths with a trailing slash, which it
// would redirect to the bare file. The first are answered with the file
// itself, the second with 404.
type fileHandler struct {
	fs    afero.Fs
	files http.Handler
}

func newFileHandler(fsys afero.Fs) *fileHandler {
	return &fileHandler{
		fs:    fsys,
		files: http.FileServer(afero.NewHttpFs(fsys)),
	}
}

func (h *fileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isExplicitIndex(r.URL.Path) && h.serveFile(w, r, normalizeRequestPath(r.URL.Path)) {
		return
	}
	if h.isFileWithSlash(r.URL.Path) {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}
	h.files.ServeHTTP(w, r)
}

// isFileWithSlash reports whether rawPath ends in "/" but names a regular file.
func (h *fileHandler) isFileWithSlash(rawPath string) bool {
	if rawPath == "/" || !strings.HasSuffix(rawPath, "/") {
		return false
	}
	info, err := h.fs.Stat(normalizeRequestPath(rawPath))
	return err == nil && !info.IsDir()
}

// serveFile answers the request for the file at name and reports whether it
// did. Only a directory that happens to be named like a file is left to
// FileServer.
func (h *fileHandler) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	f, err := h.fs.Open(name)
	if err != nil {
		serveError(w, err)
		return true
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		serveError(w, err)
		return true
	}
	if info.IsDir() {
		return false
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

// serveError mirrors the status codes http.FileServer uses for open errors.
func serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "404 page not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "403 Forbidden", http.StatusForbidden)
	default:
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
	}
}
