package repository

import (
	"fmt"

	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

// Folders --------------------------------------------------------------------

// AddFolder inserts a folder into the working package. The parent, when set,
// must be a folder of the same package.
func (s *Store) AddFolder(f domain.Folder) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return domain.Folder{}, ErrNotLoaded
	}
	if f.ID == "" {
		f.ID = s.ids.Folder()
	}
	if _, exists := s.folders[f.ID]; exists {
		return domain.Folder{}, fmt.Errorf("folder %q already exists", f.ID)
	}
	if !s.folderExists(f.ParentID) {
		return domain.Folder{}, domain.ErrNotFound{Entity: domain.EntityFolder, ID: *f.ParentID}
	}
	if f.Type == "" {
		f.Type = domain.FolderGeneric
	}
	f.PackageID = s.pkg.ID
	s.folders[f.ID] = cloneFolder(f)
	s.touch()
	return cloneFolder(f), nil
}

// RenameFolder changes a folder name.
func (s *Store) RenameFolder(id, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return false
	}
	f.Name = name
	s.folders[id] = f
	s.touch()
	return true
}

// MoveFolder re-parents a folder. A nil parent moves it to the root. Moves
// into a folder outside the package or into the folder's own subtree are
// refused.
func (s *Store) MoveFolder(id string, parentID *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok || !s.folderExists(parentID) {
		return false
	}
	if parentID != nil && s.isDescendant(*parentID, id) {
		return false
	}
	f.ParentID = cloneString(parentID)
	s.folders[id] = f
	s.touch()
	return true
}

// isDescendant reports whether candidate equals ancestor or lies beneath it.
func (s *Store) isDescendant(candidate, ancestor string) bool {
	seen := make(map[string]struct{})
	for cur := &candidate; cur != nil; {
		if *cur == ancestor {
			return true
		}
		if _, loop := seen[*cur]; loop {
			return true
		}
		seen[*cur] = struct{}{}
		f, ok := s.folders[*cur]
		if !ok {
			return false
		}
		cur = f.ParentID
	}
	return false
}

// DeleteFolder removes a folder. Its children move to the deleted folder's
// parent and contained entities drop their folder reference.
func (s *Store) DeleteFolder(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return false
	}
	for cid, child := range s.folders {
		if child.ParentID != nil && *child.ParentID == id {
			child.ParentID = cloneString(f.ParentID)
			s.folders[cid] = child
		}
	}
	for eid, e := range s.elements {
		if e.FolderID != nil && *e.FolderID == id {
			e.FolderID = nil
			s.elements[eid] = e
		}
	}
	for rid, r := range s.relations {
		if r.FolderID != nil && *r.FolderID == id {
			r.FolderID = nil
			s.relations[rid] = r
		}
	}
	for vid, v := range s.views {
		if v.FolderID != nil && *v.FolderID == id {
			v.FolderID = nil
			s.views[vid] = v
		}
	}
	delete(s.folders, id)
	s.touch()
	return true
}

// Elements -------------------------------------------------------------------

// AddElement inserts an element. The type must exist in the metamodel and
// properties must satisfy any registered schema.
func (s *Store) AddElement(e domain.Element) (domain.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return domain.Element{}, ErrNotLoaded
	}
	if !metamodel.IsElementType(e.Type) {
		return domain.Element{}, fmt.Errorf("%w: %s", ErrUnknownElementType, e.Type)
	}
	if e.ID == "" {
		e.ID = s.ids.Element()
	}
	if _, exists := s.elements[e.ID]; exists {
		return domain.Element{}, fmt.Errorf("element %q already exists", e.ID)
	}
	if !s.folderExists(e.FolderID) {
		return domain.Element{}, domain.ErrNotFound{Entity: domain.EntityFolder, ID: *e.FolderID}
	}
	props, err := s.validateProperties(e.Type, e.Properties)
	if err != nil {
		return domain.Element{}, err
	}
	now := s.touch()
	e.Properties = props
	e.PackageID = s.pkg.ID
	e.CreatedAt = now
	e.ModifiedAt = now
	s.elements[e.ID] = cloneElement(e)
	return cloneElement(e), nil
}

func (s *Store) updateElement(id string, fn func(*domain.Element) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	if !ok || !fn(&e) {
		return false
	}
	e.ModifiedAt = s.touch()
	s.elements[id] = e
	return true
}

// RenameElement changes an element name.
func (s *Store) RenameElement(id, name string) bool {
	return s.updateElement(id, func(e *domain.Element) bool {
		e.Name = name
		return true
	})
}

// MoveElement places an element in a folder of the package, or at the root when nil.
func (s *Store) MoveElement(id string, folderID *string) bool {
	return s.updateElement(id, func(e *domain.Element) bool {
		if !s.folderExists(folderID) {
			return false
		}
		e.FolderID = cloneString(folderID)
		return true
	})
}

// UpdateElementProperties replaces an element's property bag after schema
// validation. A missing element reports false without error.
func (s *Store) UpdateElementProperties(id string, props domain.Properties) (bool, error) {
	var verr error
	ok := s.updateElement(id, func(e *domain.Element) bool {
		validated, err := s.validateProperties(e.Type, props)
		if err != nil {
			verr = err
			return false
		}
		e.Properties = validated
		return true
	})
	return ok, verr
}

// DeleteElement removes an element, every relation attached to it, and every
// node representing it in the package's views.
func (s *Store) DeleteElement(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elements[id]; !ok {
		return false
	}
	for rid, r := range s.relations {
		if r.SourceID == id || r.TargetID == id {
			s.deleteRelationLocked(rid)
		}
	}
	for vid, v := range s.views {
		if v.Layout.PruneElement(id) {
			s.views[vid] = v
		}
	}
	delete(s.elements, id)
	s.touch()
	return true
}

// Relations ------------------------------------------------------------------

// AddRelation inserts a relation between two existing elements when the
// metamodel allows the connection.
func (s *Store) AddRelation(r domain.Relation) (domain.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return domain.Relation{}, ErrNotLoaded
	}
	src, ok := s.elements[r.SourceID]
	if !ok {
		return domain.Relation{}, domain.ErrNotFound{Entity: domain.EntityElement, ID: r.SourceID}
	}
	dst, ok := s.elements[r.TargetID]
	if !ok {
		return domain.Relation{}, domain.ErrNotFound{Entity: domain.EntityElement, ID: r.TargetID}
	}
	if !metamodel.CanConnect(src.Type, dst.Type, r.Type) {
		return domain.Relation{}, fmt.Errorf("%w: %s -%s-> %s", ErrInvalidRelation, src.Type, r.Type, dst.Type)
	}
	if r.ID == "" {
		r.ID = s.ids.Relation()
	}
	if _, exists := s.relations[r.ID]; exists {
		return domain.Relation{}, fmt.Errorf("relation %q already exists", r.ID)
	}
	if !s.folderExists(r.FolderID) {
		return domain.Relation{}, domain.ErrNotFound{Entity: domain.EntityFolder, ID: *r.FolderID}
	}
	now := s.touch()
	r.PackageID = s.pkg.ID
	r.Properties = r.Properties.Clone()
	r.CreatedAt = now
	r.ModifiedAt = now
	s.relations[r.ID] = cloneRelation(r)
	return cloneRelation(r), nil
}

func (s *Store) updateRelation(id string, fn func(*domain.Relation) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relations[id]
	if !ok || !fn(&r) {
		return false
	}
	r.ModifiedAt = s.touch()
	s.relations[id] = r
	return true
}

// RenameRelation changes a relation name.
func (s *Store) RenameRelation(id, name string) bool {
	return s.updateRelation(id, func(r *domain.Relation) bool {
		r.Name = name
		return true
	})
}

// MoveRelation places a relation in a folder of the package, or at the root when nil.
func (s *Store) MoveRelation(id string, folderID *string) bool {
	return s.updateRelation(id, func(r *domain.Relation) bool {
		if !s.folderExists(folderID) {
			return false
		}
		r.FolderID = cloneString(folderID)
		return true
	})
}

// DeleteRelation removes a relation and the edges drawing it.
func (s *Store) DeleteRelation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deleteRelationLocked(id) {
		return false
	}
	s.touch()
	return true
}

func (s *Store) deleteRelationLocked(id string) bool {
	if _, ok := s.relations[id]; !ok {
		return false
	}
	for vid, v := range s.views {
		if v.Layout.PruneRelation(id) {
			s.views[vid] = v
		}
	}
	delete(s.relations, id)
	return true
}

// Views ----------------------------------------------------------------------

// AddView inserts a view.
func (s *Store) AddView(v domain.View) (domain.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return domain.View{}, ErrNotLoaded
	}
	if v.ID == "" {
		v.ID = s.ids.View()
	}
	if _, exists := s.views[v.ID]; exists {
		return domain.View{}, fmt.Errorf("view %q already exists", v.ID)
	}
	if !s.folderExists(v.FolderID) {
		return domain.View{}, domain.ErrNotFound{Entity: domain.EntityFolder, ID: *v.FolderID}
	}
	now := s.touch()
	v.PackageID = s.pkg.ID
	v.CreatedAt = now
	v.ModifiedAt = now
	v.LockedBy, v.LockedAt, v.LockMessage = "", nil, ""
	s.views[v.ID] = cloneView(v)
	return cloneView(v), nil
}

func (s *Store) updateView(id string, fn func(*domain.View) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok || !fn(&v) {
		return false
	}
	v.ModifiedAt = s.touch()
	s.views[id] = v
	return true
}

// RenameView changes a view name.
func (s *Store) RenameView(id, name string) bool {
	return s.updateView(id, func(v *domain.View) bool {
		v.Name = name
		return true
	})
}

// MoveView places a view in a folder of the package, or at the root when nil.
func (s *Store) MoveView(id string, folderID *string) bool {
	return s.updateView(id, func(v *domain.View) bool {
		if !s.folderExists(folderID) {
			return false
		}
		v.FolderID = cloneString(folderID)
		return true
	})
}

// UpdateViewLayout replaces the layout of a view.
func (s *Store) UpdateViewLayout(id string, layout domain.Layout) bool {
	return s.updateView(id, func(v *domain.View) bool {
		v.Layout = layout.Clone()
		return true
	})
}

// DeleteView removes a view.
func (s *Store) DeleteView(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[id]; !ok {
		return false
	}
	delete(s.views, id)
	s.touch()
	return true
}
