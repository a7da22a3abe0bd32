package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"archcore/internal/diff"
	"archcore/internal/ids"
	"archcore/internal/infra/persistence/memory"
	"archcore/internal/lock"
	"archcore/internal/merge"
	"archcore/internal/repository"
	"archcore/internal/sandbox"
	"archcore/internal/snapshot"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

// Clock supplies timestamps to the service and the components it builds.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// ErrSnapshotsDisabled is returned by snapshot operations when no codec is configured.
var ErrSnapshotsDisabled = errors.New("snapshot export is not configured")

// Response is the result value returned by every service operation. Failures
// never escape as panics or bare errors.
type Response[T any] struct {
	Success   bool     `json:"success"`
	Data      T        `json:"data"`
	Error     string   `json:"error,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`

	err error
}

// Err returns the underlying error of a failed response.
func (r Response[T]) Err() error { return r.err }

func succeed[T any](data T) Response[T] { return Response[T]{Success: true, Data: data} }

func fail[T any](err error) Response[T] {
	return Response[T]{Error: err.Error(), err: err}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer spans are started on.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the clock used for lock and identifier timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSnapshotCodec enables export, import and sync status.
func WithSnapshotCodec(c *snapshot.Codec) Option {
	return func(s *Service) { s.codec = c }
}

// WithPropertySchemas installs the property schemas validated on element
// writes.
func WithPropertySchemas(schemas ...domain.PropertySchema) Option {
	return func(s *Service) { s.schemas = append(s.schemas, schemas...) }
}

// Service is the boundary over the versioning engine: locks, sandboxes,
// diff, merge and snapshots over one persistent store.
type Service struct {
	store   PersistentStore
	codec   *snapshot.Codec
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
	schemas []domain.PropertySchema

	ids       *ids.Generator
	locks     *lock.Manager
	sandboxes *sandbox.Manager
	merger    *merge.Engine
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ids = ids.New(s.clock.Now)
	s.locks = lock.NewManager(store, lock.WithClock(s.clock.Now))
	s.sandboxes = sandbox.NewManager(store, sandbox.WithIDGenerator(s.ids))
	s.merger = merge.NewEngine(store, s.ids)
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	cfg := &Service{clock: ClockFunc(func() time.Time { return time.Now().UTC() })}
	for _, opt := range opts {
		opt(cfg)
	}
	return NewService(memory.NewStore(engine, memory.WithClock(cfg.clock.Now)), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// run wraps an operation with tracing, metrics, logging and panic recovery.
func run[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (resp Response[T]) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
			resp = fail[T](err)
		}
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, time.Since(start))
		if err != nil {
			s.logger.Error("operation failed", "operation", op, "error", err.Error())
			return
		}
		s.logger.Debug("operation completed", "operation", op, "duration", time.Since(start))
	}()
	data, err := fn(ctx)
	if err != nil {
		return fail[T](err)
	}
	return succeed(data)
}

// ListPackages returns every package ordered by id.
func (s *Service) ListPackages(ctx context.Context) Response[[]domain.Package] {
	return run(ctx, s, "list_packages", func(context.Context) ([]domain.Package, error) {
		return s.store.ListPackages(), nil
	})
}

// GetPackage returns a package with all of its entities.
func (s *Service) GetPackage(ctx context.Context, id string) Response[domain.PackageContents] {
	return run(ctx, s, "get_package", func(context.Context) (domain.PackageContents, error) {
		contents, found := s.store.LoadPackage(id)
		if !found {
			return domain.PackageContents{}, domain.ErrNotFound{Entity: domain.EntityPackage, ID: id}
		}
		return contents, nil
	})
}

// CreatePackage persists a new, empty package.
func (s *Service) CreatePackage(ctx context.Context, pkg domain.Package) Response[domain.Package] {
	return run(ctx, s, "create_package", func(ctx context.Context) (domain.Package, error) {
		var created domain.Package
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreatePackage(pkg)
			return err
		})
		return created, err
	})
}

// SavePackage replaces the stored package with contents in one transaction.
func (s *Service) SavePackage(ctx context.Context, contents domain.PackageContents) Response[domain.Result] {
	return run(ctx, s, "save_package", func(ctx context.Context) (domain.Result, error) {
		if contents.Package.ID == "" {
			return domain.Result{}, fmt.Errorf("package id required")
		}
		repo := s.newRepository()
		repo.Load(contents)
		return repo.Save(ctx, s.store)
	})
}

// InferRelations computes the derived edges of a stored view without
// writing them back.
func (s *Service) InferRelations(ctx context.Context, viewID string) Response[[]domain.VisualEdge] {
	return run(ctx, s, "infer_relations", func(context.Context) ([]domain.VisualEdge, error) {
		view, found := s.store.GetView(viewID)
		if !found {
			return nil, domain.ErrNotFound{Entity: domain.EntityView, ID: viewID}
		}
		repo := repository.New(repository.WithClock(s.clock.Now))
		if !repo.LoadFrom(s.store, view.PackageID) {
			return nil, domain.ErrNotFound{Entity: domain.EntityPackage, ID: view.PackageID}
		}
		edges, _ := repo.InferRelations(viewID)
		return edges, nil
	})
}

// ValidRelationships lists the relation types allowed between two element types.
func (s *Service) ValidRelationships(ctx context.Context, source, target metamodel.ElementType) Response[[]metamodel.RelationType] {
	return run(ctx, s, "valid_relationships", func(context.Context) ([]metamodel.RelationType, error) {
		if !metamodel.IsElementType(source) {
			return nil, fmt.Errorf("unknown element type %q", source)
		}
		if !metamodel.IsElementType(target) {
			return nil, fmt.Errorf("unknown element type %q", target)
		}
		return metamodel.ValidRelationships(source, target), nil
	})
}

// CheckOutView locks a view for user.
func (s *Service) CheckOutView(ctx context.Context, viewID, user, message string) Response[lock.Info] {
	return run(ctx, s, "check_out_view", func(ctx context.Context) (lock.Info, error) {
		if _, err := s.locks.CheckOut(ctx, viewID, user, message); err != nil {
			return lock.Info{}, err
		}
		info, _ := s.locks.LockInfo(viewID)
		return info, nil
	})
}

// CheckInView releases user's lock on a view.
func (s *Service) CheckInView(ctx context.Context, viewID, user string) Response[domain.View] {
	return run(ctx, s, "check_in_view", func(ctx context.Context) (domain.View, error) {
		return s.locks.CheckIn(ctx, viewID, user)
	})
}

// ForceUnlockView clears any lock on a view.
func (s *Service) ForceUnlockView(ctx context.Context, viewID string) Response[domain.View] {
	return run(ctx, s, "force_unlock_view", func(ctx context.Context) (domain.View, error) {
		return s.locks.ForceUnlock(ctx, viewID)
	})
}

// LockInfo reports the lock on a view; Data is nil when unlocked.
func (s *Service) LockInfo(ctx context.Context, viewID string) Response[*lock.Info] {
	return run(ctx, s, "lock_info", func(context.Context) (*lock.Info, error) {
		if _, found := s.store.GetView(viewID); !found {
			return nil, domain.ErrNotFound{Entity: domain.EntityView, ID: viewID}
		}
		info, locked := s.locks.LockInfo(viewID)
		if !locked {
			return nil, nil
		}
		return &info, nil
	})
}

// PackageLockedViews lists the locked views of a package.
func (s *Service) PackageLockedViews(ctx context.Context, packageID string) Response[[]lock.Info] {
	return run(ctx, s, "package_locked_views", func(ctx context.Context) ([]lock.Info, error) {
		return s.locks.PackageLockedViews(ctx, packageID)
	})
}

// CanEdit reports whether user may edit a view.
func (s *Service) CanEdit(ctx context.Context, viewID, user string) Response[bool] {
	return run(ctx, s, "can_edit", func(context.Context) (bool, error) {
		return s.locks.CanEdit(viewID, user), nil
	})
}

// CreateSandbox copies a package into a new sandbox.
func (s *Service) CreateSandbox(ctx context.Context, sourceID, name, description string) Response[sandbox.Created] {
	return run(ctx, s, "create_sandbox", func(ctx context.Context) (sandbox.Created, error) {
		created, err := s.sandboxes.CreateSandbox(ctx, sourceID, name, description)
		if err == nil {
			s.logger.Info("sandbox created", "source", sourceID, "sandbox", created.PackageID,
				"elements", created.Stats.Elements, "relations", created.Stats.Relations)
		}
		return created, err
	})
}

// DeleteSandbox removes a sandbox package.
func (s *Service) DeleteSandbox(ctx context.Context, id string) Response[string] {
	return run(ctx, s, "delete_sandbox", func(ctx context.Context) (string, error) {
		return id, s.sandboxes.DeleteSandbox(ctx, id)
	})
}

// ListSandboxes returns every sandbox package.
func (s *Service) ListSandboxes(ctx context.Context) Response[[]domain.Package] {
	return run(ctx, s, "list_sandboxes", func(context.Context) ([]domain.Package, error) {
		return s.sandboxes.ListSandboxes(), nil
	})
}

// ComparePackages diffs package b against package a.
func (s *Service) ComparePackages(ctx context.Context, a, b string) Response[diff.PackageDiff] {
	return run(ctx, s, "compare_packages", func(ctx context.Context) (diff.PackageDiff, error) {
		var out diff.PackageDiff
		err := s.store.View(ctx, func(view TransactionView) error {
			left, found := domain.LoadContents(view, a)
			if !found {
				return domain.ErrNotFound{Entity: domain.EntityPackage, ID: a}
			}
			right, found := domain.LoadContents(view, b)
			if !found {
				return domain.ErrNotFound{Entity: domain.EntityPackage, ID: b}
			}
			out = diff.ComparePackages(left, right)
			return nil
		})
		return out, err
	})
}

// MergeSandbox applies a sandbox onto target. Property conflicts produce an
// unsuccessful response listing them; nothing is written in that case.
func (s *Service) MergeSandbox(ctx context.Context, sandboxID, targetID string, strategy merge.Strategy) Response[merge.Result] {
	resp := run(ctx, s, "merge_sandbox", func(ctx context.Context) (merge.Result, error) {
		return s.merger.MergeSandbox(ctx, sandboxID, targetID, strategy)
	})
	if resp.Success && !resp.Data.Success {
		s.logger.Warn("merge aborted by conflicts", "sandbox", sandboxID, "target", targetID, "conflicts", len(resp.Data.Conflicts))
		resp.Success = false
		resp.Conflicts = resp.Data.Conflicts
		resp.Error = fmt.Sprintf("merge aborted: %d conflicting elements", len(resp.Data.Conflicts))
	}
	return resp
}

// ExportPackage writes a package snapshot.
func (s *Service) ExportPackage(ctx context.Context, packageID string) Response[snapshot.Exported] {
	return run(ctx, s, "export_package", func(ctx context.Context) (snapshot.Exported, error) {
		if s.codec == nil {
			return snapshot.Exported{}, ErrSnapshotsDisabled
		}
		return s.codec.Export(ctx, packageID)
	})
}

// ImportPackage reads the export of packageID into the store. dir must lie
// below the export root; an empty dir uses the package's export directory.
func (s *Service) ImportPackage(ctx context.Context, packageID, dir string) Response[string] {
	return run(ctx, s, "import_package", func(ctx context.Context) (string, error) {
		if s.codec == nil {
			return "", ErrSnapshotsDisabled
		}
		return s.codec.ImportPackage(ctx, packageID, dir)
	})
}

// SyncStatus reports whether a package changed since its last export.
func (s *Service) SyncStatus(ctx context.Context, packageID string) Response[snapshot.Status] {
	return run(ctx, s, "sync_status", func(ctx context.Context) (snapshot.Status, error) {
		if s.codec == nil {
			return snapshot.Status{}, ErrSnapshotsDisabled
		}
		return s.codec.SyncStatus(ctx, packageID)
	})
}
