package ids

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorFormat(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	gen := New(func() time.Time { return at })

	sandbox := gen.Sandbox()
	assert.Regexp(t, regexp.MustCompile(`^sandbox_1700000000123_[0-9a-f]{9}$`), sandbox)
	assert.Regexp(t, `^elem_1700000000123_`, gen.Element())
	assert.Regexp(t, `^rel_`, gen.Relation())
	assert.Regexp(t, `^folder_`, gen.Folder())
	assert.Regexp(t, `^view_`, gen.View())
}

func TestGeneratorUnique(t *testing.T) {
	gen := New(nil)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := gen.Element()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
