// Package diff compares two packages by identity key rather than by id, so a
// sandbox can be compared with the package it was copied from.
package diff

import (
	"fmt"
	"sort"

	"archcore/pkg/domain"
)

// Changes lists entity names per outcome.
type Changes struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// PackageDiff is the outcome of ComparePackages.
type PackageDiff struct {
	Elements  Changes `json:"elements"`
	Views     Changes `json:"views"`
	Relations Changes `json:"relations"`
}

// Empty reports whether the packages are equivalent.
func (d PackageDiff) Empty() bool {
	return d.Elements.Empty() && d.Views.Empty() && d.Relations.Empty()
}

// ElementKey identifies an element across packages: its external id when
// set, otherwise "<type>:<name>".
func ElementKey(e domain.Element) string {
	if e.ExternalID != "" {
		return e.ExternalID
	}
	return string(e.Type) + ":" + e.Name
}

// RelationKey identifies a relation across packages by type and endpoint keys.
// It reports false when an endpoint is not in elements.
func RelationKey(r domain.Relation, elements map[string]domain.Element) (string, bool) {
	src, ok := elements[r.SourceID]
	if !ok {
		return "", false
	}
	dst, ok := elements[r.TargetID]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%s", r.Type, ElementKey(src), ElementKey(dst)), true
}

// PropertiesEqual compares two property bags by canonical content.
func PropertiesEqual(a, b domain.Properties) bool {
	return Fingerprint(a.Clone()) == Fingerprint(b.Clone())
}

// IndexElements maps element key to element. The element with the lowest id
// wins when keys collide.
func IndexElements(elements []domain.Element) map[string]domain.Element {
	sorted := append([]domain.Element(nil), elements...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make(map[string]domain.Element, len(sorted))
	for _, e := range sorted {
		key := ElementKey(e)
		if _, dup := out[key]; !dup {
			out[key] = e
		}
	}
	return out
}

func byID(elements []domain.Element) map[string]domain.Element {
	out := make(map[string]domain.Element, len(elements))
	for _, e := range elements {
		out[e.ID] = e
	}
	return out
}

// IndexRelations maps relation key to relation for relations whose endpoints
// are among elements.
func IndexRelations(relations []domain.Relation, elements []domain.Element) map[string]domain.Relation {
	lookup := byID(elements)
	sorted := append([]domain.Relation(nil), relations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make(map[string]domain.Relation, len(sorted))
	for _, r := range sorted {
		key, ok := RelationKey(r, lookup)
		if !ok {
			continue
		}
		if _, dup := out[key]; !dup {
			out[key] = r
		}
	}
	return out
}

// ComparePackages reports what b adds, removes and modifies relative to a.
// Elements are modified when their properties differ, views when their
// layouts differ, relations when their name or properties differ.
func ComparePackages(a, b domain.PackageContents) PackageDiff {
	var d PackageDiff

	elemsA, elemsB := IndexElements(a.Elements), IndexElements(b.Elements)
	d.Elements = compare(elemsA, elemsB,
		func(e domain.Element) string { return e.Name },
		func(x, y domain.Element) bool { return !PropertiesEqual(x.Properties, y.Properties) })

	lookupA, lookupB := byID(a.Elements), byID(b.Elements)
	relsA, relsB := IndexRelations(a.Relations, a.Elements), IndexRelations(b.Relations, b.Elements)

	viewsA, viewsB := indexViews(a.Views), indexViews(b.Views)
	keysA, keysB := layoutKeys(lookupA, relsA), layoutKeys(lookupB, relsB)
	d.Views = compare(viewsA, viewsB,
		func(v domain.View) string { return v.Name },
		func(x, y domain.View) bool {
			return Fingerprint(keyedLayout(x.Layout, keysA)) != Fingerprint(keyedLayout(y.Layout, keysB))
		})

	d.Relations = compare(relsA, relsB,
		func(r domain.Relation) string { return relationLabel(r, lookupA, lookupB) },
		func(x, y domain.Relation) bool {
			return x.Name != y.Name || !PropertiesEqual(x.Properties, y.Properties)
		})
	return d
}

func relationLabel(r domain.Relation, lookups ...map[string]domain.Element) string {
	name := func(id string) string {
		for _, l := range lookups {
			if e, ok := l[id]; ok {
				return e.Name
			}
		}
		return id
	}
	return fmt.Sprintf("%s -%s-> %s", name(r.SourceID), r.Type, name(r.TargetID))
}

type refKeys struct {
	elements  map[string]string
	relations map[string]string
}

func layoutKeys(elements map[string]domain.Element, relations map[string]domain.Relation) refKeys {
	k := refKeys{elements: make(map[string]string, len(elements)), relations: make(map[string]string, len(relations))}
	for id, e := range elements {
		k.elements[id] = ElementKey(e)
	}
	for key, r := range relations {
		k.relations[r.ID] = key
	}
	return k
}

// keyedLayout replaces entity ids in a layout copy with identity keys, so
// layouts drawn over copied entities compare equal to their source.
func keyedLayout(l domain.Layout, keys refKeys) domain.Layout {
	out := l.Clone()
	out.RemapRefs(keys.elements, keys.relations)
	return out
}

func indexViews(views []domain.View) map[string]domain.View {
	sorted := append([]domain.View(nil), views...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make(map[string]domain.View, len(sorted))
	for _, v := range sorted {
		if _, dup := out[v.Name]; !dup {
			out[v.Name] = v
		}
	}
	return out
}

func compare[T any](a, b map[string]T, label func(T) string, modified func(x, y T) bool) Changes {
	c := Changes{Added: []string{}, Removed: []string{}, Modified: []string{}}
	for key, vb := range b {
		va, ok := a[key]
		switch {
		case !ok:
			c.Added = append(c.Added, label(vb))
		case modified(va, vb):
			c.Modified = append(c.Modified, label(vb))
		}
	}
	for key, va := range a {
		if _, ok := b[key]; !ok {
			c.Removed = append(c.Removed, label(va))
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Modified)
	return c
}
