package models

import (
	"fmt"
	"unicode"

	"github.com/desertthunder/regq/internal/shared"
)

// ValidIdentifier reports whether s is a non-empty run of letters, digits, '-' and '_'.
//
// Platform and dataset names are joined into storage paths, so '/' and '.' are never allowed.
func ValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// ValidateIdentifiers checks the named task fields with [ValidIdentifier].
func ValidateIdentifiers(t *Task, names ...string) error {
	for _, name := range names {
		v, ok := t.Fields[name]
		if !ok {
			return fmt.Errorf("%w: task %s: missing %s", shared.ErrValidation, t.ID, name)
		}
		if !ValidIdentifier(v) {
			return fmt.Errorf("%w: task %s: %s=%q must only contain letters, digits, '-' or '_'", shared.ErrValidation, t.ID, name, v)
		}
	}
	return nil
}
