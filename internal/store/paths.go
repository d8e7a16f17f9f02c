package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned when a peer-supplied path, once
// normalised, does not resolve under the configured root.
var ErrPathEscapesRoot = errors.New("store: path escapes root")

// ResolveUnderRoot normalises relPath (removing "." and ".." components)
// and confirms the resulting absolute path is confined to root. It
// never follows symlinks beyond what filepath.Clean resolves lexically:
// the contract is a prefix check on the canonical root, matching
// spec §4.8.
func ResolveUnderRoot(root, relPath string) (string, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("store: resolve root: %w", err)
	}
	cleanRoot = filepath.Clean(cleanRoot)

	joined := filepath.Join(cleanRoot, relPath)
	joined = filepath.Clean(joined)

	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return joined, nil
}
