package sandbox

import (
	"archcore/internal/ids"
	"archcore/pkg/domain"
)

// IDMap records the identifiers allocated for copied entities, keyed by the
// source identifier.
type IDMap struct {
	Folders   map[string]string
	Elements  map[string]string
	Relations map[string]string
	Views     map[string]string
}

func newIDMap() IDMap {
	return IDMap{
		Folders:   make(map[string]string),
		Elements:  make(map[string]string),
		Relations: make(map[string]string),
		Views:     make(map[string]string),
	}
}

// CopyStats counts what a copy created.
type CopyStats struct {
	Folders   int `json:"folders"`
	Elements  int `json:"elements"`
	Relations int `json:"relations"`
	Views     int `json:"views"`
}

// CopyInto recreates src's folders, elements, relations and views inside the
// existing package targetID with fresh identifiers. Folders are created in two
// passes so parents can be remapped once every folder exists. Relations are
// copied only when both endpoints were copied, and view layouts are rewritten
// to point at the copies. Locks are never carried over.
func CopyInto(tx domain.Transaction, gen *ids.Generator, src domain.PackageContents, targetID string) (IDMap, CopyStats, error) {
	m := newIDMap()
	var stats CopyStats

	for _, f := range src.Folders {
		id := gen.Folder()
		if _, err := tx.CreateFolder(domain.Folder{ID: id, Name: f.Name, Type: f.Type, PackageID: targetID}); err != nil {
			return m, stats, err
		}
		m.Folders[f.ID] = id
		stats.Folders++
	}
	for _, f := range src.Folders {
		if f.ParentID == nil {
			continue
		}
		parent, ok := m.Folders[*f.ParentID]
		if !ok {
			continue
		}
		if _, err := tx.UpdateFolder(m.Folders[f.ID], func(nf *domain.Folder) error {
			nf.ParentID = &parent
			return nil
		}); err != nil {
			return m, stats, err
		}
	}

	for _, e := range src.Elements {
		srcID := e.ID
		e.ID = gen.Element()
		e.PackageID = targetID
		e.FolderID = m.remapFolder(e.FolderID)
		e.Properties = e.Properties.Clone()
		if _, err := tx.CreateElement(e); err != nil {
			return m, stats, err
		}
		m.Elements[srcID] = e.ID
		stats.Elements++
	}

	for _, r := range src.Relations {
		source, okS := m.Elements[r.SourceID]
		target, okT := m.Elements[r.TargetID]
		if !okS || !okT {
			continue
		}
		srcID := r.ID
		r.ID = gen.Relation()
		r.SourceID = source
		r.TargetID = target
		r.PackageID = targetID
		r.FolderID = m.remapFolder(r.FolderID)
		r.Properties = r.Properties.Clone()
		if _, err := tx.CreateRelation(r); err != nil {
			return m, stats, err
		}
		m.Relations[srcID] = r.ID
		stats.Relations++
	}

	for _, v := range src.Views {
		srcID := v.ID
		v.ID = gen.View()
		v.PackageID = targetID
		v.FolderID = m.remapFolder(v.FolderID)
		v.Layout = v.Layout.Clone()
		v.Layout.RemapRefs(m.Elements, m.Relations)
		v.LockedBy, v.LockedAt, v.LockMessage = "", nil, ""
		if _, err := tx.CreateView(v); err != nil {
			return m, stats, err
		}
		m.Views[srcID] = v.ID
		stats.Views++
	}
	return m, stats, nil
}

func (m IDMap) remapFolder(id *string) *string {
	if id == nil {
		return nil
	}
	mapped, ok := m.Folders[*id]
	if !ok {
		return nil
	}
	return &mapped
}
