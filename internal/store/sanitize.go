// Package store presents console scene slots and local backup files as one
// merged catalog, sandboxed to a single directory on disk.
package store

import (
	"errors"
	"path/filepath"
	"strings"
)

// Sentinel errors surfaced to the HTTP layer. Callers match with errors.Is.
var (
	// ErrNotFound indicates no catalog entry matches the given id.
	ErrNotFound = errors.New("store: scene not found")

	// ErrUnsupported indicates the operation does not apply to the entry,
	// such as deleting an on-device slot.
	ErrUnsupported = errors.New("store: operation not supported for this entry")

	// ErrPathEscape indicates a filename that is invalid or would resolve
	// outside the sandbox directory.
	ErrPathEscape = errors.New("store: invalid filename")

	// ErrBusy indicates another writer holds the advisory lock on the file.
	ErrBusy = errors.New("store: file is locked by another writer")
)

// SanitizeFilename validates a user-supplied filename for use inside the
// sandbox. Control characters are stripped; path separators, absolute paths,
// and any '..' sequence are rejected outright. The function is idempotent:
// sanitizing an accepted name returns it unchanged.
func SanitizeFilename(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())

	if out == "" || out == "." {
		return "", ErrPathEscape
	}
	if strings.ContainsAny(out, `/\`) {
		return "", ErrPathEscape
	}
	if strings.Contains(out, "..") {
		return "", ErrPathEscape
	}
	return out, nil
}

// resolve maps a filename to its absolute path inside the sandbox, asserting
// containment under the canonical sandbox root.
func (s *Store) resolve(name string) (string, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return p, nil
}
