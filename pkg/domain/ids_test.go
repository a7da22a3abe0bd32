package domain

import (
	"errors"
	"testing"
)

func TestValidateID(t *testing.T) {
	for _, id := range []string{"pkg", "elem_1700000000000_ab12cd", "sandbox_1", "Server A"} {
		if err := ValidateID(id); err != nil {
			t.Fatalf("expected %q to be accepted: %v", id, err)
		}
	}
	for _, id := range []string{"", ".", "..", "../../../outside", "a/b", `a\b`, "x..y", "tab\tid"} {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("expected %q to be rejected, got %v", id, err)
		}
	}
}
