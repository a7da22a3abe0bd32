// Package repository holds the active package being edited in memory. Every
// mutation is synchronous; operations addressing a missing identifier are
// no-ops that report false.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"archcore/internal/ids"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

var (
	// ErrNotLoaded is returned by additions made before a package is loaded.
	ErrNotLoaded = errors.New("repository: no package loaded")
	// ErrUnknownElementType rejects elements whose type is not in the metamodel.
	ErrUnknownElementType = errors.New("repository: unknown element type")
	// ErrInvalidRelation rejects relations the metamodel does not allow.
	ErrInvalidRelation = errors.New("repository: relation not allowed between element types")
)

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides identifier allocation.
func WithIDGenerator(gen *ids.Generator) Option {
	return func(s *Store) {
		if gen != nil {
			s.ids = gen
		}
	}
}

// Store is the in-memory working copy of one package.
type Store struct {
	mu        sync.RWMutex
	loaded    bool
	pkg       domain.Package
	folders   map[string]domain.Folder
	elements  map[string]domain.Element
	relations map[string]domain.Relation
	views     map[string]domain.View
	schemas   map[metamodel.ElementType]domain.PropertySchema
	ids       *ids.Generator
	now       func() time.Time
}

// New constructs an empty repository store.
func New(opts ...Option) *Store {
	s := &Store{
		schemas: make(map[metamodel.ElementType]domain.PropertySchema),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = ids.New(s.now)
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.folders = make(map[string]domain.Folder)
	s.elements = make(map[string]domain.Element)
	s.relations = make(map[string]domain.Relation)
	s.views = make(map[string]domain.View)
}

// Load replaces the working copy with contents.
func (s *Store) Load(contents domain.PackageContents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.pkg = contents.Package
	s.loaded = true
	for _, f := range contents.Folders {
		s.folders[f.ID] = cloneFolder(f)
	}
	for _, e := range contents.Elements {
		s.elements[e.ID] = cloneElement(e)
	}
	for _, r := range contents.Relations {
		s.relations[r.ID] = cloneRelation(r)
	}
	for _, v := range contents.Views {
		s.views[v.ID] = cloneView(v)
	}
}

// LoadFrom reads packageID from a persistent store into the working copy.
func (s *Store) LoadFrom(store domain.PersistentStore, packageID string) bool {
	contents, ok := store.LoadPackage(packageID)
	if !ok {
		return false
	}
	s.Load(contents)
	return true
}

// Loaded reports whether a package is loaded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Contents returns a deep copy of the working package, entities ordered by id.
func (s *Store) Contents() domain.PackageContents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.PackageContents{
		Package:   s.pkg,
		Folders:   sortedValues(s.folders, cloneFolder),
		Elements:  sortedValues(s.elements, cloneElement),
		Relations: sortedValues(s.relations, cloneRelation),
		Views:     sortedValues(s.views, cloneView),
	}
}

// FindFolder returns a folder of the working copy.
func (s *Store) FindFolder(id string) (domain.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return domain.Folder{}, false
	}
	return cloneFolder(f), true
}

// FindElement implements domain.ElementFinder over the working copy.
func (s *Store) FindElement(id string) (domain.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[id]
	if !ok {
		return domain.Element{}, false
	}
	return cloneElement(e), true
}

// FindRelation implements domain.RelationFinder over the working copy.
func (s *Store) FindRelation(id string) (domain.Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[id]
	if !ok {
		return domain.Relation{}, false
	}
	return cloneRelation(r), true
}

// FindView returns a view of the working copy.
func (s *Store) FindView(id string) (domain.View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[id]
	if !ok {
		return domain.View{}, false
	}
	return cloneView(v), true
}

// RegisterSchema installs the property schema for one element type.
func (s *Store) RegisterSchema(schema domain.PropertySchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.ElementType] = schema
}

// Save reconciles the persistent store with the working copy in one transaction.
func (s *Store) Save(ctx context.Context, store domain.PersistentStore) (domain.Result, error) {
	if !s.Loaded() {
		return domain.Result{}, ErrNotLoaded
	}
	contents := s.Contents()
	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.SyncPackage(contents)
	})
	if err != nil {
		return res, fmt.Errorf("save package %s: %w", contents.Package.ID, err)
	}
	return res, nil
}

// touch stamps the package modification time. Callers hold the write lock.
func (s *Store) touch() time.Time {
	now := s.now()
	s.pkg.UpdatedAt = now
	return now
}

func (s *Store) folderExists(id *string) bool {
	if id == nil {
		return true
	}
	_, ok := s.folders[*id]
	return ok
}

func (s *Store) validateProperties(t metamodel.ElementType, props domain.Properties) (domain.Properties, error) {
	schema, ok := s.schemas[t]
	if !ok {
		return props.Clone(), nil
	}
	return schema.Validate(props)
}

func sortedValues[T any](m map[string]T, clone func(T) T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(m[k]))
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFolder(f domain.Folder) domain.Folder {
	f.ParentID = cloneString(f.ParentID)
	return f
}

func cloneElement(e domain.Element) domain.Element {
	e.FolderID = cloneString(e.FolderID)
	e.Properties = e.Properties.Clone()
	return e
}

func cloneRelation(r domain.Relation) domain.Relation {
	r.FolderID = cloneString(r.FolderID)
	r.Properties = r.Properties.Clone()
	return r
}

func cloneView(v domain.View) domain.View {
	v.FolderID = cloneString(v.FolderID)
	v.Layout = v.Layout.Clone()
	if v.LockedAt != nil {
		at := *v.LockedAt
		v.LockedAt = &at
	}
	return v
}
