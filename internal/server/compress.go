package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compress gzips responses for clients that accept it. gzhttp skips small
// bodies and already-compressed content types on its own.
func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
