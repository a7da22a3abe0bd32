package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidID marks identifiers that cannot be used as entity ids.
var ErrInvalidID = errors.New("invalid identifier")

// ValidateID reports whether id can name an entity. Ids double as export
// file names, so separators, dot segments and control characters are refused.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
