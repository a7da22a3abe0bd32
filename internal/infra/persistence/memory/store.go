// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the transactional engine
// behind the snapshotting sqlite and postgres stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"archcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Package aliases domain.Package for in-memory persistence operations.
	Package = domain.Package
	// Folder aliases domain.Folder.
	Folder = domain.Folder
	// Element aliases domain.Element.
	Element = domain.Element
	// Relation aliases domain.Relation.
	Relation = domain.Relation
	// View aliases domain.View.
	View = domain.View
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	packages  map[string]Package
	folders   map[string]Folder
	elements  map[string]Element
	relations map[string]Relation
	views     map[string]View
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Packages  map[string]Package  `json:"packages"`
	Folders   map[string]Folder   `json:"folders"`
	Elements  map[string]Element  `json:"elements"`
	Relations map[string]Relation `json:"relations"`
	Views     map[string]View     `json:"views"`
}

func newMemoryState() memoryState {
	return memoryState{
		packages:  make(map[string]Package),
		folders:   make(map[string]Folder),
		elements:  make(map[string]Element),
		relations: make(map[string]Relation),
		views:     make(map[string]View),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Packages:  c.packages,
		Folders:   c.folders,
		Elements:  c.elements,
		Relations: c.relations,
		Views:     c.views,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		packages:  s.Packages,
		folders:   s.Folders,
		elements:  s.Elements,
		relations: s.Relations,
		views:     s.Views,
	}
	return state.clone()
}

// migrateSnapshot normalises a persisted snapshot: nil buckets become empty,
// entities of unknown packages are dropped, dangling relation endpoints drop
// the relation, and dangling folder references are cleared.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	state := memoryStateFromSnapshot(snapshot)
	for id, f := range state.folders {
		if _, ok := state.packages[f.PackageID]; !ok {
			delete(state.folders, id)
		}
	}
	for id, f := range state.folders {
		if f.ParentID == nil {
			continue
		}
		parent, ok := state.folders[*f.ParentID]
		if !ok || parent.PackageID != f.PackageID {
			f.ParentID = nil
			state.folders[id] = f
		}
	}
	for id, e := range state.elements {
		if _, ok := state.packages[e.PackageID]; !ok {
			delete(state.elements, id)
			continue
		}
		e.FolderID = liveFolder(&state, e.FolderID)
		state.elements[id] = e
	}
	for id, r := range state.relations {
		_, srcOK := state.elements[r.SourceID]
		_, dstOK := state.elements[r.TargetID]
		if _, ok := state.packages[r.PackageID]; !ok || !srcOK || !dstOK {
			delete(state.relations, id)
			continue
		}
		r.FolderID = liveFolder(&state, r.FolderID)
		state.relations[id] = r
	}
	for id, v := range state.views {
		if _, ok := state.packages[v.PackageID]; !ok {
			delete(state.views, id)
			continue
		}
		v.FolderID = liveFolder(&state, v.FolderID)
		state.views[id] = v
	}
	return Snapshot{
		Packages:  state.packages,
		Folders:   state.folders,
		Elements:  state.elements,
		Relations: state.relations,
		Views:     state.views,
	}
}

func liveFolder(state *memoryState, id *string) *string {
	if id == nil {
		return nil
	}
	if _, ok := state.folders[*id]; !ok {
		return nil
	}
	return id
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.packages {
		c.packages[k] = v
	}
	for k, v := range s.folders {
		c.folders[k] = cloneFolder(v)
	}
	for k, v := range s.elements {
		c.elements[k] = cloneElement(v)
	}
	for k, v := range s.relations {
		c.relations[k] = cloneRelation(v)
	}
	for k, v := range s.views {
		c.views[k] = cloneView(v)
	}
	return c
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFolder(f Folder) Folder {
	f.ParentID = cloneString(f.ParentID)
	return f
}

func cloneElement(e Element) Element {
	e.FolderID = cloneString(e.FolderID)
	e.Properties = e.Properties.Clone()
	return e
}

func cloneRelation(r Relation) Relation {
	r.FolderID = cloneString(r.FolderID)
	r.Properties = r.Properties.Clone()
	return r
}

func cloneView(v View) View {
	v.FolderID = cloneString(v.FolderID)
	v.Layout = v.Layout.Clone()
	if v.LockedAt != nil {
		at := *v.LockedAt
		v.LockedAt = &at
	}
	return v
}

// sortedValues returns the values of m accepted by keep, cloned and ordered by id.
func sortedValues[T any](m map[string]T, keep func(T) bool, clone func(T) T) []T {
	ids := make([]string, 0, len(m))
	for id, v := range m {
		if keep == nil || keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m[id]))
	}
	return out
}

func identity[T any](v T) T { return v }

// Persister durably writes a committed snapshot. A persister error aborts the
// transaction before the new state becomes visible.
type Persister func(ctx context.Context, snapshot Snapshot) error

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp entities.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithPersister installs a hook invoked with the candidate state of every
// transaction that passed rule evaluation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	engine  *RulesEngine
	nowFn   func() time.Time
	persist Persister
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds, no blocking
// violation is raised and the configured persister accepts the snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.persist != nil && len(tx.changes) > 0 {
		if err := s.persist(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

// Read helpers ---------------------------------------------------------------

// GetPackage retrieves a package by ID from committed state.
func (s *Store) GetPackage(id string) (Package, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.packages[id]
	return p, ok
}

// ListPackages returns all packages from committed state ordered by ID.
func (s *Store) ListPackages() []Package {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.packages, nil, identity[Package])
}

// GetElement retrieves an element by ID.
func (s *Store) GetElement(id string) (Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.elements[id]
	if !ok {
		return Element{}, false
	}
	return cloneElement(e), true
}

// GetView retrieves a view by ID.
func (s *Store) GetView(id string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.views[id]
	if !ok {
		return View{}, false
	}
	return cloneView(v), true
}

// LoadPackage returns a package together with all entities it owns.
func (s *Store) LoadPackage(id string) (domain.PackageContents, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.LoadContents(newTransactionView(&s.state), id)
}
