package server

import (
	"path"
	"strings"
)

const indexPage = "index.html"

// normalizeRequestPath turns a URL path into the slash-rooted, cleaned name
// used to open files from the served filesystem.
func normalizeRequestPath(rawPath string) string {
	if !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + rawPath
	}
	return path.Clean(rawPath)
}

// isExplicitIndex reports whether the request names index.html directly
// (as opposed to a directory that falls back to it).
func isExplicitIndex(rawPath string) bool {
	return strings.HasSuffix(rawPath, "/"+indexPage)
}
