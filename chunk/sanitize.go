package chunk

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/opd-ai/pqxfer/limits"
)

// ErrUnsafeFileName indicates a file name that could escape the
// destination directory or exceed filesystem limits.
var ErrUnsafeFileName = errors.New("unsafe file name")

// SanitizeFileName reduces a peer-supplied file name to a bare name safe
// to create inside the destination directory. Directory components,
// traversal sequences, and control characters are rejected rather than
// silently rewritten.
func SanitizeFileName(name string) (string, error) {
	if name == "" || len(name) > limits.MaxFileNameLength {
		return "", ErrUnsafeFileName
	}

	base := filepath.Base(filepath.Clean(name))
	if base != name || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", ErrUnsafeFileName
	}
	if strings.ContainsAny(base, "\x00") || strings.ContainsRune(base, filepath.Separator) {
		return "", ErrUnsafeFileName
	}

	return base, nil
}
