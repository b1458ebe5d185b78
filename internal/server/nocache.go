package server

import (
	"bufio"
	"net"
	"net/http"
)

// Headers added to every response so browsers and proxies never reuse a
// stale copy of the app under test.
var noCacheHeaders = [...][2]string{
	{"Cache-Control", "no-cache, no-store, must-revalidate"},
	{"Pragma", "no-cache"},
	{"Expires", "0"},
}

// noCacheWriter applies noCacheHeaders at the moment the header is committed,
// after the wrapped handler has finished preparing it. http.ServeContent drops
// Cache-Control on error responses, so setting the headers up front is not
// enough.
type noCacheWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *noCacheWriter) WriteHeader(code int) {
	// 1xx responses are informational; the final header comes later.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if !w.wroteHeader {
		w.wroteHeader = true
		h := w.Header()
		for _, kv := range noCacheHeaders {
			h.Set(kv[0], kv[1])
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *noCacheWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *noCacheWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *noCacheWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *noCacheWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// noCache decorates next so every response it produces carries noCacheHeaders,
// whatever the status code.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ncw := &noCacheWriter{ResponseWriter: w}
		next.ServeHTTP(ncw, r)
		// Handlers that write nothing still produce a 200 response.
		if !ncw.wroteHeader {
			ncw.WriteHeader(http.StatusOK)
		}
	})
}
