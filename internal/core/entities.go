package core

import (
	"context"
	"errors"
	"fmt"

	"archcore/internal/repository"
	"archcore/pkg/domain"
)

// ErrMoveRefused is returned when a folder move would leave the package or
// create a cycle, or when an entity is moved into an unknown folder.
var ErrMoveRefused = errors.New("move refused")

// Patch lists the fields an update changes; nil fields are left alone.
// Folder names the new folder (the new parent for folders) and an empty
// string moves to the package root. Properties applies to elements only and
// Layout to views only.
type Patch struct {
	Name       *string           `json:"name,omitempty"`
	Folder     *string           `json:"folderId,omitempty"`
	Properties domain.Properties `json:"properties,omitempty"`
	Layout     *domain.Layout    `json:"layout,omitempty"`
}

func (p Patch) target() *string {
	if p.Folder == nil || *p.Folder == "" {
		return nil
	}
	return p.Folder
}

func (s *Service) newRepository() *repository.Store {
	repo := repository.New(repository.WithClock(s.clock.Now), repository.WithIDGenerator(s.ids))
	for _, schema := range s.schemas {
		repo.RegisterSchema(schema)
	}
	return repo
}

// edit loads packageID into a working copy inside one transaction, applies
// fn and writes the result back, so cascades, schema validation and commit
// rules all apply.
func (s *Service) edit(ctx context.Context, packageID string, fn func(*repository.Store) error) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		contents, ok := domain.LoadContents(tx.Snapshot(), packageID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPackage, ID: packageID}
		}
		repo := s.newRepository()
		repo.Load(contents)
		if err := fn(repo); err != nil {
			return err
		}
		return tx.SyncPackage(repo.Contents())
	})
	return err
}

// packageOf resolves the package owning an entity.
func (s *Service) packageOf(ctx context.Context, entity domain.EntityType, id string) (string, error) {
	var pkg string
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var ok bool
		switch entity {
		case domain.EntityFolder:
			var f domain.Folder
			f, ok = view.FindFolder(id)
			pkg = f.PackageID
		case domain.EntityElement:
			var e domain.Element
			e, ok = view.FindElement(id)
			pkg = e.PackageID
		case domain.EntityRelation:
			var r domain.Relation
			r, ok = view.FindRelation(id)
			pkg = r.PackageID
		case domain.EntityView:
			var v domain.View
			v, ok = view.FindView(id)
			pkg = v.PackageID
		}
		if !ok {
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		return nil
	})
	return pkg, err
}

func (s *Service) editEntity(ctx context.Context, entity domain.EntityType, id string, fn func(*repository.Store) error) error {
	pkg, err := s.packageOf(ctx, entity, id)
	if err != nil {
		return err
	}
	return s.edit(ctx, pkg, fn)
}

func refused(entity domain.EntityType, id string) error {
	return fmt.Errorf("%w: %s %s", ErrMoveRefused, entity, id)
}

// Folders --------------------------------------------------------------------

// CreateFolder adds a folder to its package.
func (s *Service) CreateFolder(ctx context.Context, f domain.Folder) Response[domain.Folder] {
	return run(ctx, s, "create_folder", func(ctx context.Context) (created domain.Folder, err error) {
		err = s.edit(ctx, f.PackageID, func(repo *repository.Store) error {
			created, err = repo.AddFolder(f)
			return err
		})
		return created, err
	})
}

// UpdateFolder renames and/or re-parents a folder.
func (s *Service) UpdateFolder(ctx context.Context, id string, p Patch) Response[domain.Folder] {
	return run(ctx, s, "update_folder", func(ctx context.Context) (out domain.Folder, err error) {
		err = s.editEntity(ctx, domain.EntityFolder, id, func(repo *repository.Store) error {
			if p.Name != nil {
				repo.RenameFolder(id, *p.Name)
			}
			if p.Folder != nil && !repo.MoveFolder(id, p.target()) {
				return refused(domain.EntityFolder, id)
			}
			out, _ = repo.FindFolder(id)
			return nil
		})
		return out, err
	})
}

// DeleteFolder removes a folder; children move up and contained entities
// drop their folder reference.
func (s *Service) DeleteFolder(ctx context.Context, id string) Response[bool] {
	return run(ctx, s, "delete_folder", func(ctx context.Context) (bool, error) {
		err := s.editEntity(ctx, domain.EntityFolder, id, func(repo *repository.Store) error {
			repo.DeleteFolder(id)
			return nil
		})
		return err == nil, err
	})
}

// Elements -------------------------------------------------------------------

// CreateElement adds an element to its package.
func (s *Service) CreateElement(ctx context.Context, e domain.Element) Response[domain.Element] {
	return run(ctx, s, "create_element", func(ctx context.Context) (created domain.Element, err error) {
		err = s.edit(ctx, e.PackageID, func(repo *repository.Store) error {
			created, err = repo.AddElement(e)
			return err
		})
		return created, err
	})
}

// UpdateElement renames, moves or replaces the properties of an element.
func (s *Service) UpdateElement(ctx context.Context, id string, p Patch) Response[domain.Element] {
	return run(ctx, s, "update_element", func(ctx context.Context) (out domain.Element, err error) {
		err = s.editEntity(ctx, domain.EntityElement, id, func(repo *repository.Store) error {
			if p.Name != nil {
				repo.RenameElement(id, *p.Name)
			}
			if p.Folder != nil && !repo.MoveElement(id, p.target()) {
				return refused(domain.EntityElement, id)
			}
			if p.Properties != nil {
				if _, err := repo.UpdateElementProperties(id, p.Properties); err != nil {
					return err
				}
			}
			out, _ = repo.FindElement(id)
			return nil
		})
		return out, err
	})
}

// DeleteElement removes an element with its relations and diagram nodes.
func (s *Service) DeleteElement(ctx context.Context, id string) Response[bool] {
	return run(ctx, s, "delete_element", func(ctx context.Context) (bool, error) {
		err := s.editEntity(ctx, domain.EntityElement, id, func(repo *repository.Store) error {
			repo.DeleteElement(id)
			return nil
		})
		return err == nil, err
	})
}

// Relations ------------------------------------------------------------------

// CreateRelation connects two elements of a package.
func (s *Service) CreateRelation(ctx context.Context, r domain.Relation) Response[domain.Relation] {
	return run(ctx, s, "create_relation", func(ctx context.Context) (created domain.Relation, err error) {
		err = s.edit(ctx, r.PackageID, func(repo *repository.Store) error {
			created, err = repo.AddRelation(r)
			return err
		})
		return created, err
	})
}

// UpdateRelation renames or moves a relation.
func (s *Service) UpdateRelation(ctx context.Context, id string, p Patch) Response[domain.Relation] {
	return run(ctx, s, "update_relation", func(ctx context.Context) (out domain.Relation, err error) {
		err = s.editEntity(ctx, domain.EntityRelation, id, func(repo *repository.Store) error {
			if p.Name != nil {
				repo.RenameRelation(id, *p.Name)
			}
			if p.Folder != nil && !repo.MoveRelation(id, p.target()) {
				return refused(domain.EntityRelation, id)
			}
			out, _ = repo.FindRelation(id)
			return nil
		})
		return out, err
	})
}

// DeleteRelation removes a relation and the edges drawing it.
func (s *Service) DeleteRelation(ctx context.Context, id string) Response[bool] {
	return run(ctx, s, "delete_relation", func(ctx context.Context) (bool, error) {
		err := s.editEntity(ctx, domain.EntityRelation, id, func(repo *repository.Store) error {
			repo.DeleteRelation(id)
			return nil
		})
		return err == nil, err
	})
}

// Views ----------------------------------------------------------------------

// CreateView adds an unlocked view to its package.
func (s *Service) CreateView(ctx context.Context, v domain.View) Response[domain.View] {
	return run(ctx, s, "create_view", func(ctx context.Context) (created domain.View, err error) {
		err = s.edit(ctx, v.PackageID, func(repo *repository.Store) error {
			created, err = repo.AddView(v)
			return err
		})
		return created, err
	})
}

// UpdateView renames, moves or re-lays out a view. Locks are advisory and
// are not checked here.
func (s *Service) UpdateView(ctx context.Context, id string, p Patch) Response[domain.View] {
	return run(ctx, s, "update_view", func(ctx context.Context) (out domain.View, err error) {
		err = s.editEntity(ctx, domain.EntityView, id, func(repo *repository.Store) error {
			if p.Name != nil {
				repo.RenameView(id, *p.Name)
			}
			if p.Folder != nil && !repo.MoveView(id, p.target()) {
				return refused(domain.EntityView, id)
			}
			if p.Layout != nil {
				repo.UpdateViewLayout(id, *p.Layout)
			}
			out, _ = repo.FindView(id)
			return nil
		})
		return out, err
	})
}

// DeleteView removes a view.
func (s *Service) DeleteView(ctx context.Context, id string) Response[bool] {
	return run(ctx, s, "delete_view", func(ctx context.Context) (bool, error) {
		err := s.editEntity(ctx, domain.EntityView, id, func(repo *repository.Store) error {
			repo.DeleteView(id)
			return nil
		})
		return err == nil, err
	})
}
