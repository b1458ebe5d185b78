package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveRoot returns the directory containing the running executable, so the
// served files do not depend on where the program was launched from.
// Binaries built by `go run` live in a temporary build directory; in that case
// the working directory is used instead.
func ResolveRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)

	if isGoRunDir(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		return wd, nil
	}
	return dir, nil
}

// isGoRunDir reports whether dir is the scratch directory `go run` builds
// into: <tmp>/go-build<digits>/b<digits>/exe.
func isGoRunDir(dir string) bool {
	parts := strings.Split(filepath.ToSlash(dir), "/")
	n := len(parts)
	if n < 3 || parts[n-1] != "exe" {
		return false
	}
	return hasDigitSuffix(parts[n-2], "b") && hasDigitSuffix(parts[n-3], "go-build")
}

// hasDigitSuffix reports whether s is prefix followed by one or more digits.
func hasDigitSuffix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
