// Package ids allocates the prefixed, time-ordered identifiers used for
// sandbox packages and copied entities.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefixes of generated identifiers.
const (
	SandboxPrefix  = "sandbox"
	ElementPrefix  = "elem"
	RelationPrefix = "rel"
	FolderPrefix   = "folder"
	ViewPrefix     = "view"
)

// Generator produces identifiers of the form <prefix>_<epoch-ms>_<rand>.
type Generator struct {
	now func() time.Time
}

// New returns a generator using the supplied clock; nil uses time.Now.
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next allocates an identifier with the given prefix.
func (g *Generator) Next(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, g.now().UnixMilli(), suffix)
}

// Sandbox allocates a sandbox package identifier.
func (g *Generator) Sandbox() string { return g.Next(SandboxPrefix) }

// Element allocates an element identifier.
func (g *Generator) Element() string { return g.Next(ElementPrefix) }

// Relation allocates a relation identifier.
func (g *Generator) Relation() string { return g.Next(RelationPrefix) }

// Folder allocates a folder identifier.
func (g *Generator) Folder() string { return g.Next(FolderPrefix) }

// View allocates a view identifier.
func (g *Generator) View() string { return g.Next(ViewPrefix) }
