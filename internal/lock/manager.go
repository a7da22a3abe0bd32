// Package lock implements advisory per-view check-out locks. A view is either
// unlocked or held by exactly one user; locks never expire and ForceUnlock is
// the only way to clear another user's lock.
package lock

import (
	"context"
	"fmt"
	"time"

	"archcore/pkg/domain"
)

// ErrAlreadyCheckedOut is returned when another user holds the view.
type ErrAlreadyCheckedOut struct {
	ViewID   string
	LockedBy string
	LockedAt time.Time
}

func (e ErrAlreadyCheckedOut) Error() string {
	return fmt.Sprintf("view %s already checked out by %s at %s", e.ViewID, e.LockedBy, e.LockedAt.Format(time.RFC3339))
}

// ErrLockedByAnotherUser is returned when a user checks in a view held by someone else.
type ErrLockedByAnotherUser struct {
	ViewID   string
	LockedBy string
}

func (e ErrLockedByAnotherUser) Error() string {
	return fmt.Sprintf("view %s is locked by %s", e.ViewID, e.LockedBy)
}

// Info describes the lock held on a view.
type Info struct {
	ViewID   string    `json:"viewId"`
	LockedBy string    `json:"lockedBy"`
	LockedAt time.Time `json:"lockedAt"`
	Message  string    `json:"message,omitempty"`
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the lock timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager applies lock transitions through a persistent store.
type Manager struct {
	store domain.PersistentStore
	now   func() time.Time
}

// NewManager constructs a lock manager over store.
func NewManager(store domain.PersistentStore, opts ...Option) *Manager {
	m := &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckOut locks viewID for user. Checking out a view the user already holds
// succeeds without touching the lock.
func (m *Manager) CheckOut(ctx context.Context, viewID, user, message string) (domain.View, error) {
	var out domain.View
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		v, ok := tx.FindView(viewID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityView, ID: viewID}
		}
		if v.Locked() {
			if v.LockedBy != user {
				at := time.Time{}
				if v.LockedAt != nil {
					at = *v.LockedAt
				}
				return ErrAlreadyCheckedOut{ViewID: viewID, LockedBy: v.LockedBy, LockedAt: at}
			}
			out = v
			return nil
		}
		now := m.now()
		var err error
		out, err = tx.UpdateView(viewID, func(v *domain.View) error {
			v.LockedBy = user
			v.LockedAt = &now
			v.LockMessage = message
			return nil
		})
		return err
	})
	if err != nil {
		return domain.View{}, err
	}
	return out, nil
}

// CheckIn releases user's lock on viewID. An unlocked view is left as is.
func (m *Manager) CheckIn(ctx context.Context, viewID, user string) (domain.View, error) {
	var out domain.View
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		v, ok := tx.FindView(viewID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityView, ID: viewID}
		}
		if !v.Locked() {
			out = v
			return nil
		}
		if v.LockedBy != user {
			return ErrLockedByAnotherUser{ViewID: viewID, LockedBy: v.LockedBy}
		}
		var err error
		out, err = tx.UpdateView(viewID, clearLock)
		return err
	})
	if err != nil {
		return domain.View{}, err
	}
	return out, nil
}

// ForceUnlock clears any lock on viewID regardless of holder.
func (m *Manager) ForceUnlock(ctx context.Context, viewID string) (domain.View, error) {
	var out domain.View
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		v, ok := tx.FindView(viewID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityView, ID: viewID}
		}
		if !v.Locked() {
			out = v
			return nil
		}
		var err error
		out, err = tx.UpdateView(viewID, clearLock)
		return err
	})
	if err != nil {
		return domain.View{}, err
	}
	return out, nil
}

func clearLock(v *domain.View) error {
	v.LockedBy = ""
	v.LockedAt = nil
	v.LockMessage = ""
	return nil
}

// LockInfo reports the lock held on viewID, if any.
func (m *Manager) LockInfo(viewID string) (Info, bool) {
	v, ok := m.store.GetView(viewID)
	if !ok || !v.Locked() {
		return Info{}, false
	}
	return infoOf(v), true
}

// PackageLockedViews lists the locks held on views of packageID, ordered by view id.
func (m *Manager) PackageLockedViews(ctx context.Context, packageID string) ([]Info, error) {
	var out []Info
	err := m.store.View(ctx, func(view domain.TransactionView) error {
		for _, v := range view.ListViews(packageID) {
			if v.Locked() {
				out = append(out, infoOf(v))
			}
		}
		return nil
	})
	return out, err
}

// CanEdit reports whether user may edit viewID: the view is unlocked or held
// by user. Unknown views are not editable.
func (m *Manager) CanEdit(viewID, user string) bool {
	v, ok := m.store.GetView(viewID)
	if !ok {
		return false
	}
	return !v.Locked() || v.LockedBy == user
}

func infoOf(v domain.View) Info {
	info := Info{ViewID: v.ID, LockedBy: v.LockedBy, Message: v.LockMessage}
	if v.LockedAt != nil {
		info.LockedAt = *v.LockedAt
	}
	return info
}
