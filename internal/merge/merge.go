// Package merge applies a sandbox back onto its target package.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"archcore/internal/diff"
	"archcore/internal/ids"
	"archcore/internal/sandbox"
	"archcore/pkg/domain"
)

// Strategy selects how a sandbox is applied.
type Strategy string

const (
	// Overwrite replaces the target's contents with a copy of the sandbox.
	Overwrite Strategy = "overwrite"
	// Merge adds sandbox elements and relations missing from the target and
	// refuses to proceed when shared elements disagree on properties.
	Merge Strategy = "merge"
)

// ErrUnknownStrategy is returned for strategies other than Overwrite and Merge.
var ErrUnknownStrategy = errors.New("unknown merge strategy")

// Stats counts the writes performed by a merge.
type Stats struct {
	FoldersCreated   int `json:"foldersCreated"`
	ElementsCreated  int `json:"elementsCreated"`
	RelationsCreated int `json:"relationsCreated"`
	ViewsCreated     int `json:"viewsCreated"`
	EntitiesDeleted  int `json:"entitiesDeleted"`
}

// Result is the outcome of MergeSandbox. Conflicts are only reported by the
// Merge strategy; when present nothing was written.
type Result struct {
	Success   bool     `json:"success"`
	Conflicts []string `json:"conflicts"`
	Stats     Stats    `json:"stats"`
}

// Engine merges packages held in a persistent store.
type Engine struct {
	store domain.PersistentStore
	ids   *ids.Generator
}

// NewEngine constructs a merge engine. A nil generator uses the wall clock.
func NewEngine(store domain.PersistentStore, gen *ids.Generator) *Engine {
	if gen == nil {
		gen = ids.New(func() time.Time { return time.Now().UTC() })
	}
	return &Engine{store: store, ids: gen}
}

// MergeSandbox applies sandboxID onto targetID in one transaction.
func (e *Engine) MergeSandbox(ctx context.Context, sandboxID, targetID string, strategy Strategy) (Result, error) {
	if strategy != Overwrite && strategy != Merge {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	var out Result
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		view := tx.Snapshot()
		src, ok := domain.LoadContents(view, sandboxID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: sandboxID}
		}
		dst, ok := domain.LoadContents(view, targetID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: targetID}
		}
		var err error
		switch strategy {
		case Overwrite:
			out, err = e.overwrite(tx, src, dst)
		default:
			out, err = e.merge(tx, src, dst)
		}
		if err != nil || !out.Success {
			return err
		}
		_, err = tx.UpdatePackage(targetID, func(*domain.Package) error { return nil })
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("merge %s into %s: %w", sandboxID, targetID, err)
	}
	return out, nil
}

func (e *Engine) overwrite(tx domain.Transaction, src, dst domain.PackageContents) (Result, error) {
	deleted := len(dst.Folders) + len(dst.Elements) + len(dst.Relations) + len(dst.Views)
	if err := sandbox.ClearPackage(tx, dst, false); err != nil {
		return Result{}, err
	}
	_, copied, err := sandbox.CopyInto(tx, e.ids, src, dst.Package.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:   true,
		Conflicts: []string{},
		Stats: Stats{
			FoldersCreated:   copied.Folders,
			ElementsCreated:  copied.Elements,
			RelationsCreated: copied.Relations,
			ViewsCreated:     copied.Views,
			EntitiesDeleted:  deleted,
		},
	}, nil
}

// Conflicts lists the sandbox elements whose identity key exists in the
// target with different properties, ordered by element name.
func Conflicts(src, dst domain.PackageContents) []string {
	target := diff.IndexElements(dst.Elements)
	var names []string
	for key, el := range diff.IndexElements(src.Elements) {
		existing, ok := target[key]
		if ok && !diff.PropertiesEqual(existing.Properties, el.Properties) {
			names = append(names, el.Name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, fmt.Sprintf("Element %q has conflicting properties", n))
	}
	return out
}

func (e *Engine) merge(tx domain.Transaction, src, dst domain.PackageContents) (Result, error) {
	if conflicts := Conflicts(src, dst); len(conflicts) > 0 {
		return Result{Success: false, Conflicts: conflicts}, nil
	}
	res := Result{Success: true, Conflicts: []string{}}

	// Element ids in the target, keyed by identity, including created ones.
	resolved := make(map[string]string)
	for key, el := range diff.IndexElements(dst.Elements) {
		resolved[key] = el.ID
	}
	srcElements := append([]domain.Element(nil), src.Elements...)
	sort.Slice(srcElements, func(i, j int) bool { return srcElements[i].ID < srcElements[j].ID })
	merged := append([]domain.Element(nil), dst.Elements...)
	for _, el := range srcElements {
		key := diff.ElementKey(el)
		if _, ok := resolved[key]; ok {
			continue
		}
		el.ID = e.ids.Element()
		el.PackageID = dst.Package.ID
		el.FolderID = nil
		el.Properties = el.Properties.Clone()
		created, err := tx.CreateElement(el)
		if err != nil {
			return Result{}, err
		}
		resolved[key] = created.ID
		merged = append(merged, created)
		res.Stats.ElementsCreated++
	}

	srcLookup := make(map[string]domain.Element, len(src.Elements))
	for _, el := range src.Elements {
		srcLookup[el.ID] = el
	}
	existing := diff.IndexRelations(dst.Relations, merged)
	srcRelations := append([]domain.Relation(nil), src.Relations...)
	sort.Slice(srcRelations, func(i, j int) bool { return srcRelations[i].ID < srcRelations[j].ID })
	for _, r := range srcRelations {
		key, ok := diff.RelationKey(r, srcLookup)
		if !ok {
			continue
		}
		if _, present := existing[key]; present {
			continue
		}
		source, okS := resolved[diff.ElementKey(srcLookup[r.SourceID])]
		target, okT := resolved[diff.ElementKey(srcLookup[r.TargetID])]
		if !okS || !okT {
			continue
		}
		r.ID = e.ids.Relation()
		r.SourceID = source
		r.TargetID = target
		r.PackageID = dst.Package.ID
		r.FolderID = nil
		r.Properties = r.Properties.Clone()
		created, err := tx.CreateRelation(r)
		if err != nil {
			return Result{}, err
		}
		existing[key] = created
		res.Stats.RelationsCreated++
	}
	return res, nil
}
