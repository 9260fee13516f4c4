package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// validateOwner rejects owner IDs that could escape the private note root
func validateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if strings.Contains(owner, "..") || strings.ContainsAny(owner, "/\\") || strings.Contains(owner, "\x00") {
		return fmt.Errorf("owner contains invalid characters")
	}
	return nil
}

// Remember persists a new note and flags the index for resync. Shared notes
// ignore owner; private notes require one.
func (s *Store) Remember(scope Scope, owner, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("note text cannot be empty")
	}

	var dir string
	switch scope {
	case ScopeShared:
		dir = s.sharedDir
	case ScopePrivate:
		if err := validateOwner(owner); err != nil {
			return "", err
		}
		dir = filepath.Join(s.privateDir, owner)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("failed to create owner directory: %w", err)
		}
	default:
		return "", fmt.Errorf("unknown scope: %s", scope)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate note id: %w", err)
	}

	path := filepath.Join(dir, "note-"+id+".md")
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		return "", fmt.Errorf("failed to write note: %w", err)
	}

	s.MarkDirty()

	s.logger.Debug().
		Str("scope", string(scope)).
		Str("note", filepath.Base(path)).
		Msg("Note stored")

	return path, nil
}

// Forget deletes a note file previously returned by Remember. The path must
// resolve inside one of the note roots.
func (s *Store) Forget(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve note path: %w", err)
	}

	inside := false
	for _, root := range []string{s.sharedDir, s.privateDir} {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absPath, absRoot+string(os.PathSeparator)) {
			inside = true
			break
		}
	}
	if !inside {
		return fmt.Errorf("path is outside the note roots: %s", path)
	}

	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	s.MarkDirty()
	return nil
}
