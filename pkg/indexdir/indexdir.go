// Package indexdir validates index directory paths before they reach the
// engine layer.
package indexdir

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxPathLen = 4096

// ValidatePath checks that raw is a usable index directory path: absolute,
// already clean, and free of NUL bytes. It does not touch the filesystem;
// existence is the engine's problem.
func ValidatePath(raw string) error {
	switch {
	case raw == "":
		return fmt.Errorf("empty path")
	case len(raw) > maxPathLen:
		return fmt.Errorf("path exceeds %d bytes", maxPathLen)
	case strings.ContainsRune(raw, 0):
		return fmt.Errorf("path contains NUL byte")
	case !filepath.IsAbs(raw):
		return fmt.Errorf("path must be absolute: '%s'", raw)
	case !isClean(raw):
		return fmt.Errorf("path must be clean (no '..', '.', doubled or trailing separators): '%s'", raw)
	}
	return nil
}

// isClean reports whether p survives filepath.Clean unchanged
func isClean(p string) bool {
	return filepath.Clean(p) == p
}
