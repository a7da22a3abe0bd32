// Package sandbox creates and destroys experimental copies of packages.
// A sandbox is an ordinary package whose identifier carries the sandbox_
// prefix.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"archcore/internal/ids"
	"archcore/pkg/domain"
)

// ErrNotSandbox is returned when a sandbox-only operation targets a regular package.
var ErrNotSandbox = errors.New("package is not a sandbox")

// IsSandbox reports whether the package identifier marks a sandbox.
func IsSandbox(packageID string) bool {
	return strings.HasPrefix(packageID, domain.SandboxPrefix)
}

// Option customises a Manager.
type Option func(*Manager)

// WithIDGenerator overrides identifier allocation.
func WithIDGenerator(gen *ids.Generator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.ids = gen
		}
	}
}

// Manager creates, lists and deletes sandboxes in a persistent store.
type Manager struct {
	store domain.PersistentStore
	ids   *ids.Generator
}

// NewManager constructs a sandbox manager over store.
func NewManager(store domain.PersistentStore, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = ids.New(func() time.Time { return time.Now().UTC() })
	}
	return m
}

// Created describes a freshly created sandbox.
type Created struct {
	PackageID string    `json:"packageId"`
	Stats     CopyStats `json:"stats"`
}

// CreateSandbox copies sourceID into a new sandbox package in one transaction.
// An empty description is replaced by one naming the source package.
func (m *Manager) CreateSandbox(ctx context.Context, sourceID, name, description string) (Created, error) {
	var out Created
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		src, ok := domain.LoadContents(tx.Snapshot(), sourceID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: sourceID}
		}
		if name == "" {
			name = src.Package.Name + " (sandbox)"
		}
		if description == "" {
			description = fmt.Sprintf("Sandbox of %s (%s)", src.Package.Name, src.Package.ID)
		}
		pkg, err := tx.CreatePackage(domain.Package{ID: m.ids.Sandbox(), Name: name, Description: description})
		if err != nil {
			return err
		}
		_, stats, err := CopyInto(tx, m.ids, src, pkg.ID)
		if err != nil {
			return err
		}
		out = Created{PackageID: pkg.ID, Stats: stats}
		return nil
	})
	if err != nil {
		return Created{}, fmt.Errorf("create sandbox of %s: %w", sourceID, err)
	}
	return out, nil
}

// DeleteSandbox removes a sandbox package and everything it owns, children
// first. Regular packages are refused.
func (m *Manager) DeleteSandbox(ctx context.Context, packageID string) error {
	if !IsSandbox(packageID) {
		return fmt.Errorf("%w: %s", ErrNotSandbox, packageID)
	}
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		contents, ok := domain.LoadContents(tx.Snapshot(), packageID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: packageID}
		}
		return ClearPackage(tx, contents, true)
	})
	return err
}

// ClearPackage deletes views, relations, elements and folders of contents in
// that order, and the package row itself when dropPackage is set.
func ClearPackage(tx domain.Transaction, contents domain.PackageContents, dropPackage bool) error {
	for _, v := range contents.Views {
		if err := tx.DeleteView(v.ID); err != nil {
			return err
		}
	}
	for _, r := range contents.Relations {
		if _, ok := tx.FindRelation(r.ID); !ok {
			continue
		}
		if err := tx.DeleteRelation(r.ID); err != nil {
			return err
		}
	}
	for _, e := range contents.Elements {
		if err := tx.DeleteElement(e.ID); err != nil {
			return err
		}
	}
	for _, f := range contents.Folders {
		if _, ok := tx.FindFolder(f.ID); !ok {
			continue
		}
		if err := tx.DeleteFolder(f.ID); err != nil {
			return err
		}
	}
	if dropPackage {
		return tx.DeletePackage(contents.Package.ID)
	}
	return nil
}

// ListSandboxes returns every sandbox package ordered by identifier.
func (m *Manager) ListSandboxes() []domain.Package {
	var out []domain.Package
	for _, p := range m.store.ListPackages() {
		if IsSandbox(p.ID) {
			out = append(out, p)
		}
	}
	return out
}
