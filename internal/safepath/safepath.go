// Package safepath validates member names of legacy archives.
package safepath

import (
	"path/filepath"
	"strings"

	"github.com/meigma/dockerpull/core"
)

// Compile-time interface implementation check.
var _ core.PathValidator = (*Validator)(nil)

// Validator implements core.PathValidator.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePath rejects names that are absolute, contain NUL bytes, or have a
// ".." component. Names use forward slashes, as in tar headers.
func (v *Validator) ValidatePath(name string) error {
	if containsNull(name) || isAbsolute(name) || containsTraversal(name) {
		return core.ErrPathTraversal
	}
	return nil
}

func containsNull(name string) bool {
	return strings.IndexByte(name, 0) >= 0
}

func containsTraversal(name string) bool {
	for _, part := range strings.FieldsFunc(name, isSeparator) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isAbsolute(name string) bool {
	if name == "" {
		return false
	}
	if isSeparator(rune(name[0])) {
		return true
	}
	// C:\ or C:/ style volumes, on any host OS.
	if len(name) >= 2 && name[1] == ':' {
		return true
	}
	return filepath.IsAbs(name)
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
