package memory

import (
	"fmt"
	"time"

	"archcore/pkg/domain"
)

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindPackage(id string) (Package, bool) {
	return tx.Snapshot().FindPackage(id)
}

func (tx *transaction) FindFolder(id string) (Folder, bool) {
	return tx.Snapshot().FindFolder(id)
}

func (tx *transaction) FindElement(id string) (Element, bool) {
	return tx.Snapshot().FindElement(id)
}

func (tx *transaction) FindRelation(id string) (Relation, bool) {
	return tx.Snapshot().FindRelation(id)
}

func (tx *transaction) FindView(id string) (View, bool) {
	return tx.Snapshot().FindView(id)
}

func (tx *transaction) requirePackage(id string) error {
	if _, ok := tx.state.packages[id]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityPackage, ID: id}
	}
	return nil
}

// Packages -------------------------------------------------------------------

// CreatePackage stores a new package.
func (tx *transaction) CreatePackage(p Package) (Package, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if err := domain.ValidateID(p.ID); err != nil {
		return Package{}, err
	}
	if _, exists := tx.state.packages[p.ID]; exists {
		return Package{}, fmt.Errorf("package %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.packages[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityPackage, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdatePackage mutates a package and stamps UpdatedAt.
func (tx *transaction) UpdatePackage(id string, mutator func(*Package) error) (Package, error) {
	current, ok := tx.state.packages[id]
	if !ok {
		return Package{}, domain.ErrNotFound{Entity: domain.EntityPackage, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Package{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.packages[id] = current
	tx.recordChange(Change{Entity: domain.EntityPackage, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// UpsertPackage stores p as given, stamping only zero timestamps.
func (tx *transaction) UpsertPackage(p Package) (Package, error) {
	if p.ID == "" {
		return Package{}, fmt.Errorf("upsert package: id required")
	}
	if err := domain.ValidateID(p.ID); err != nil {
		return Package{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = tx.now
	}
	before, existed := tx.state.packages[p.ID]
	tx.state.packages[p.ID] = p
	if existed {
		tx.recordChange(Change{Entity: domain.EntityPackage, Action: domain.ActionUpdate, Before: before, After: p})
	} else {
		tx.recordChange(Change{Entity: domain.EntityPackage, Action: domain.ActionCreate, After: p})
	}
	return p, nil
}

// DeletePackage removes an empty package.
func (tx *transaction) DeletePackage(id string) error {
	current, ok := tx.state.packages[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPackage, ID: id}
	}
	for _, f := range tx.state.folders {
		if f.PackageID == id {
			return fmt.Errorf("package %q still owns folder %q", id, f.ID)
		}
	}
	for _, e := range tx.state.elements {
		if e.PackageID == id {
			return fmt.Errorf("package %q still owns element %q", id, e.ID)
		}
	}
	for _, r := range tx.state.relations {
		if r.PackageID == id {
			return fmt.Errorf("package %q still owns relation %q", id, r.ID)
		}
	}
	for _, v := range tx.state.views {
		if v.PackageID == id {
			return fmt.Errorf("package %q still owns view %q", id, v.ID)
		}
	}
	delete(tx.state.packages, id)
	tx.recordChange(Change{Entity: domain.EntityPackage, Action: domain.ActionDelete, Before: current})
	return nil
}

// Folders --------------------------------------------------------------------

// CreateFolder stores a new folder. Parent validity is enforced by rules at commit.
func (tx *transaction) CreateFolder(f Folder) (Folder, error) {
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if err := domain.ValidateID(f.ID); err != nil {
		return Folder{}, err
	}
	if _, exists := tx.state.folders[f.ID]; exists {
		return Folder{}, fmt.Errorf("folder %q already exists", f.ID)
	}
	return tx.putFolder(f, false)
}

// UpdateFolder mutates a folder. The owning package cannot change.
func (tx *transaction) UpdateFolder(id string, mutator func(*Folder) error) (Folder, error) {
	current, ok := tx.state.folders[id]
	if !ok {
		return Folder{}, domain.ErrNotFound{Entity: domain.EntityFolder, ID: id}
	}
	before := cloneFolder(current)
	if err := mutator(&current); err != nil {
		return Folder{}, err
	}
	current.ID = id
	current.PackageID = before.PackageID
	tx.state.folders[id] = cloneFolder(current)
	tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionUpdate, Before: before, After: cloneFolder(current)})
	return cloneFolder(current), nil
}

// UpsertFolder stores f as given.
func (tx *transaction) UpsertFolder(f Folder) (Folder, error) {
	if f.ID == "" {
		return Folder{}, fmt.Errorf("upsert folder: id required")
	}
	if err := domain.ValidateID(f.ID); err != nil {
		return Folder{}, err
	}
	return tx.putFolder(f, true)
}

func (tx *transaction) putFolder(f Folder, upsert bool) (Folder, error) {
	if err := tx.requirePackage(f.PackageID); err != nil {
		return Folder{}, err
	}
	if f.Type == "" {
		f.Type = domain.FolderGeneric
	}
	before, existed := tx.state.folders[f.ID]
	tx.state.folders[f.ID] = cloneFolder(f)
	if upsert && existed {
		tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionUpdate, Before: cloneFolder(before), After: cloneFolder(f)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionCreate, After: cloneFolder(f)})
	}
	return cloneFolder(f), nil
}

// DeleteFolder removes a folder, re-parenting its children to the deleted
// folder's parent and clearing the folder of contained entities.
func (tx *transaction) DeleteFolder(id string) error {
	current, ok := tx.state.folders[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityFolder, ID: id}
	}
	for childID, child := range tx.state.folders {
		if child.ParentID == nil || *child.ParentID != id {
			continue
		}
		before := cloneFolder(child)
		child.ParentID = cloneString(current.ParentID)
		tx.state.folders[childID] = child
		tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionUpdate, Before: before, After: cloneFolder(child)})
	}
	for eid, e := range tx.state.elements {
		if e.FolderID != nil && *e.FolderID == id {
			e.FolderID = nil
			tx.state.elements[eid] = e
		}
	}
	for rid, r := range tx.state.relations {
		if r.FolderID != nil && *r.FolderID == id {
			r.FolderID = nil
			tx.state.relations[rid] = r
		}
	}
	for vid, v := range tx.state.views {
		if v.FolderID != nil && *v.FolderID == id {
			v.FolderID = nil
			tx.state.views[vid] = v
		}
	}
	delete(tx.state.folders, id)
	tx.recordChange(Change{Entity: domain.EntityFolder, Action: domain.ActionDelete, Before: cloneFolder(current)})
	return nil
}

// Elements -------------------------------------------------------------------

// CreateElement stores a new element. Type validity is enforced by rules at commit.
func (tx *transaction) CreateElement(e Element) (Element, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if err := domain.ValidateID(e.ID); err != nil {
		return Element{}, err
	}
	if _, exists := tx.state.elements[e.ID]; exists {
		return Element{}, fmt.Errorf("element %q already exists", e.ID)
	}
	if err := tx.requirePackage(e.PackageID); err != nil {
		return Element{}, err
	}
	e.CreatedAt = tx.now
	e.ModifiedAt = tx.now
	e.Properties = e.Properties.Clone()
	tx.state.elements[e.ID] = cloneElement(e)
	tx.recordChange(Change{Entity: domain.EntityElement, Action: domain.ActionCreate, After: cloneElement(e)})
	return cloneElement(e), nil
}

// UpdateElement mutates an element and stamps ModifiedAt.
func (tx *transaction) UpdateElement(id string, mutator func(*Element) error) (Element, error) {
	current, ok := tx.state.elements[id]
	if !ok {
		return Element{}, domain.ErrNotFound{Entity: domain.EntityElement, ID: id}
	}
	before := cloneElement(current)
	if err := mutator(&current); err != nil {
		return Element{}, err
	}
	current.ID = id
	current.PackageID = before.PackageID
	current.CreatedAt = before.CreatedAt
	current.ModifiedAt = tx.now
	current.Properties = current.Properties.Clone()
	tx.state.elements[id] = cloneElement(current)
	tx.recordChange(Change{Entity: domain.EntityElement, Action: domain.ActionUpdate, Before: before, After: cloneElement(current)})
	return cloneElement(current), nil
}

// UpsertElement stores e as given, stamping only zero timestamps.
func (tx *transaction) UpsertElement(e Element) (Element, error) {
	if e.ID == "" {
		return Element{}, fmt.Errorf("upsert element: id required")
	}
	if err := domain.ValidateID(e.ID); err != nil {
		return Element{}, err
	}
	if err := tx.requirePackage(e.PackageID); err != nil {
		return Element{}, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now
	}
	if e.ModifiedAt.IsZero() {
		e.ModifiedAt = tx.now
	}
	e.Properties = e.Properties.Clone()
	before, existed := tx.state.elements[e.ID]
	tx.state.elements[e.ID] = cloneElement(e)
	if existed {
		tx.recordChange(Change{Entity: domain.EntityElement, Action: domain.ActionUpdate, Before: cloneElement(before), After: cloneElement(e)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityElement, Action: domain.ActionCreate, After: cloneElement(e)})
	}
	return cloneElement(e), nil
}

// DeleteElement removes an element, every relation attached to it, and every
// visual node representing it in the package's views.
func (tx *transaction) DeleteElement(id string) error {
	current, ok := tx.state.elements[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityElement, ID: id}
	}
	for rid, r := range tx.state.relations {
		if r.SourceID == id || r.TargetID == id {
			if err := tx.DeleteRelation(rid); err != nil {
				return err
			}
		}
	}
	for vid, v := range tx.state.views {
		if v.PackageID != current.PackageID {
			continue
		}
		before := cloneView(v)
		if v.Layout.PruneElement(id) {
			tx.state.views[vid] = v
			tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionUpdate, Before: before, After: cloneView(v)})
		}
	}
	delete(tx.state.elements, id)
	tx.recordChange(Change{Entity: domain.EntityElement, Action: domain.ActionDelete, Before: cloneElement(current)})
	return nil
}

// Relations ------------------------------------------------------------------

// CreateRelation stores a new relation between two existing elements.
func (tx *transaction) CreateRelation(r Relation) (Relation, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if err := domain.ValidateID(r.ID); err != nil {
		return Relation{}, err
	}
	if _, exists := tx.state.relations[r.ID]; exists {
		return Relation{}, fmt.Errorf("relation %q already exists", r.ID)
	}
	if err := tx.requirePackage(r.PackageID); err != nil {
		return Relation{}, err
	}
	for _, endpoint := range []string{r.SourceID, r.TargetID} {
		if _, ok := tx.state.elements[endpoint]; !ok {
			return Relation{}, domain.ErrNotFound{Entity: domain.EntityElement, ID: endpoint}
		}
	}
	r.CreatedAt = tx.now
	r.ModifiedAt = tx.now
	r.Properties = r.Properties.Clone()
	tx.state.relations[r.ID] = cloneRelation(r)
	tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionCreate, After: cloneRelation(r)})
	return cloneRelation(r), nil
}

// UpdateRelation mutates a relation and stamps ModifiedAt.
func (tx *transaction) UpdateRelation(id string, mutator func(*Relation) error) (Relation, error) {
	current, ok := tx.state.relations[id]
	if !ok {
		return Relation{}, domain.ErrNotFound{Entity: domain.EntityRelation, ID: id}
	}
	before := cloneRelation(current)
	if err := mutator(&current); err != nil {
		return Relation{}, err
	}
	current.ID = id
	current.PackageID = before.PackageID
	current.CreatedAt = before.CreatedAt
	current.ModifiedAt = tx.now
	current.Properties = current.Properties.Clone()
	tx.state.relations[id] = cloneRelation(current)
	tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionUpdate, Before: before, After: cloneRelation(current)})
	return cloneRelation(current), nil
}

// UpsertRelation stores r as given. Endpoint existence is enforced by rules at commit.
func (tx *transaction) UpsertRelation(r Relation) (Relation, error) {
	if r.ID == "" {
		return Relation{}, fmt.Errorf("upsert relation: id required")
	}
	if err := domain.ValidateID(r.ID); err != nil {
		return Relation{}, err
	}
	if err := tx.requirePackage(r.PackageID); err != nil {
		return Relation{}, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	if r.ModifiedAt.IsZero() {
		r.ModifiedAt = tx.now
	}
	r.Properties = r.Properties.Clone()
	before, existed := tx.state.relations[r.ID]
	tx.state.relations[r.ID] = cloneRelation(r)
	if existed {
		tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionUpdate, Before: cloneRelation(before), After: cloneRelation(r)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionCreate, After: cloneRelation(r)})
	}
	return cloneRelation(r), nil
}

// DeleteRelation removes a relation and the visual edges representing it.
func (tx *transaction) DeleteRelation(id string) error {
	current, ok := tx.state.relations[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRelation, ID: id}
	}
	for vid, v := range tx.state.views {
		if v.PackageID != current.PackageID {
			continue
		}
		before := cloneView(v)
		if v.Layout.PruneRelation(id) {
			tx.state.views[vid] = v
			tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionUpdate, Before: before, After: cloneView(v)})
		}
	}
	delete(tx.state.relations, id)
	tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionDelete, Before: cloneRelation(current)})
	return nil
}

// Views ----------------------------------------------------------------------

// CreateView stores a new view. New views are never locked.
func (tx *transaction) CreateView(v View) (View, error) {
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if err := domain.ValidateID(v.ID); err != nil {
		return View{}, err
	}
	if _, exists := tx.state.views[v.ID]; exists {
		return View{}, fmt.Errorf("view %q already exists", v.ID)
	}
	if err := tx.requirePackage(v.PackageID); err != nil {
		return View{}, err
	}
	v.CreatedAt = tx.now
	v.ModifiedAt = tx.now
	v.LockedBy, v.LockedAt, v.LockMessage = "", nil, ""
	v.Layout = v.Layout.Clone()
	tx.state.views[v.ID] = cloneView(v)
	tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionCreate, After: cloneView(v)})
	return cloneView(v), nil
}

// UpdateView mutates a view and stamps ModifiedAt.
func (tx *transaction) UpdateView(id string, mutator func(*View) error) (View, error) {
	current, ok := tx.state.views[id]
	if !ok {
		return View{}, domain.ErrNotFound{Entity: domain.EntityView, ID: id}
	}
	before := cloneView(current)
	if err := mutator(&current); err != nil {
		return View{}, err
	}
	current.ID = id
	current.PackageID = before.PackageID
	current.CreatedAt = before.CreatedAt
	current.ModifiedAt = tx.now
	current.Layout = current.Layout.Clone()
	tx.state.views[id] = cloneView(current)
	tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionUpdate, Before: before, After: cloneView(current)})
	return cloneView(current), nil
}

// UpsertView stores v as given, stamping only zero timestamps.
func (tx *transaction) UpsertView(v View) (View, error) {
	if v.ID == "" {
		return View{}, fmt.Errorf("upsert view: id required")
	}
	if err := domain.ValidateID(v.ID); err != nil {
		return View{}, err
	}
	if err := tx.requirePackage(v.PackageID); err != nil {
		return View{}, err
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = tx.now
	}
	if v.ModifiedAt.IsZero() {
		v.ModifiedAt = tx.now
	}
	v.Layout = v.Layout.Clone()
	before, existed := tx.state.views[v.ID]
	tx.state.views[v.ID] = cloneView(v)
	if existed {
		tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionUpdate, Before: cloneView(before), After: cloneView(v)})
	} else {
		tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionCreate, After: cloneView(v)})
	}
	return cloneView(v), nil
}

// DeleteView removes a view.
func (tx *transaction) DeleteView(id string) error {
	current, ok := tx.state.views[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityView, ID: id}
	}
	delete(tx.state.views, id)
	tx.recordChange(Change{Entity: domain.EntityView, Action: domain.ActionDelete, Before: cloneView(current)})
	return nil
}

// Bulk reconciliation ----------------------------------------------------------

// SyncPackage upserts every entity of contents and deletes the package's
// stored entities that contents no longer lists.
func (tx *transaction) SyncPackage(contents domain.PackageContents) error {
	pkgID := contents.Package.ID
	if _, err := tx.UpsertPackage(contents.Package); err != nil {
		return err
	}
	keepFolders := make(map[string]struct{}, len(contents.Folders))
	for _, f := range contents.Folders {
		f.PackageID = pkgID
		if _, err := tx.UpsertFolder(f); err != nil {
			return err
		}
		keepFolders[f.ID] = struct{}{}
	}
	keepElements := make(map[string]struct{}, len(contents.Elements))
	for _, e := range contents.Elements {
		e.PackageID = pkgID
		if _, err := tx.UpsertElement(e); err != nil {
			return err
		}
		keepElements[e.ID] = struct{}{}
	}
	keepRelations := make(map[string]struct{}, len(contents.Relations))
	for _, r := range contents.Relations {
		r.PackageID = pkgID
		if _, err := tx.UpsertRelation(r); err != nil {
			return err
		}
		keepRelations[r.ID] = struct{}{}
	}
	keepViews := make(map[string]struct{}, len(contents.Views))
	for _, v := range contents.Views {
		v.PackageID = pkgID
		// Lock state only changes through conditional view updates.
		if existing, ok := tx.state.views[v.ID]; ok {
			v.LockedBy, v.LockedAt, v.LockMessage = existing.LockedBy, existing.LockedAt, existing.LockMessage
		} else {
			v.LockedBy, v.LockedAt, v.LockMessage = "", nil, ""
		}
		if _, err := tx.UpsertView(v); err != nil {
			return err
		}
		keepViews[v.ID] = struct{}{}
	}

	view := tx.Snapshot()
	for _, v := range view.ListViews(pkgID) {
		if _, keep := keepViews[v.ID]; !keep {
			if err := tx.DeleteView(v.ID); err != nil {
				return err
			}
		}
	}
	for _, r := range view.ListRelations(pkgID) {
		if _, keep := keepRelations[r.ID]; !keep {
			if err := tx.DeleteRelation(r.ID); err != nil {
				return err
			}
		}
	}
	for _, e := range view.ListElements(pkgID) {
		if _, keep := keepElements[e.ID]; !keep {
			if err := tx.DeleteElement(e.ID); err != nil {
				return err
			}
		}
	}
	for _, f := range view.ListFolders(pkgID) {
		if _, keep := keepFolders[f.ID]; !keep {
			if err := tx.DeleteFolder(f.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
