// Package fsservice implements the Filesystem Service (component G): the
// orchestrator translating logical filesystem operations into Metadata
// Index (B) and Session Cache (F) actions inside transactions.
package fsservice

import (
	"strings"

	"github.com/objectfs/shadowfs/pkg/errors"
)

const maxNameLen = 255

// ValidateName enforces spec.md §4.5's name validation rule: non-empty,
// at most 255 bytes, no '/', and not "." or "..".
func ValidateName(name string) error {
	if name == "" {
		return invalidName(name, "name must not be empty")
	}
	if len(name) > maxNameLen {
		return invalidName(name, "name exceeds 255 bytes")
	}
	if strings.Contains(name, "/") {
		return invalidName(name, "name must not contain '/'")
	}
	if name == "." || name == ".." {
		return invalidName(name, "name must not be '.' or '..'")
	}
	return nil
}

func invalidName(name, reason string) error {
	return errors.New(errors.ErrCodeInvalidName, reason).
		WithComponent("fsservice").WithOperation("validate_name").WithContext("name", name)
}
