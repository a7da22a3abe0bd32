package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"archcore/internal/infra/persistence/memory"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

func strPtr(s string) *string { return &s }

func ruleStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, p := range []domain.Package{{ID: "p1", Name: "One"}, {ID: "p2", Name: "Two"}} {
			if _, err := tx.CreatePackage(p); err != nil {
				return err
			}
		}
		for _, e := range []domain.Element{
			{ID: "app", Name: "App", Type: "application-component", PackageID: "p1"},
			{ID: "host", Name: "Host", Type: "node", PackageID: "p1"},
			{ID: "other", Name: "Other", Type: "node", PackageID: "p2"},
		} {
			if _, err := tx.CreateElement(e); err != nil {
				return err
			}
		}
		_, err := tx.CreateFolder(domain.Folder{ID: "f2", Name: "Foreign", PackageID: "p2"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func expectBlocked(t *testing.T, err error, rule string) {
	t.Helper()
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	for _, v := range violation.Result.Violations {
		if v.Rule == rule && v.Severity == domain.SeverityBlock {
			return
		}
	}
	t.Fatalf("expected blocking %s violation, got %+v", rule, violation.Result.Violations)
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	got := strings.Join(NewDefaultRulesEngine().Rules(), ",")
	for _, name := range []string{"element_type", "relation_integrity", "folder_hierarchy"} {
		if !strings.Contains(got, name) {
			t.Fatalf("expected rule %s in %s", name, got)
		}
	}
}

func TestElementTypeRuleBlocksUnknownTypes(t *testing.T) {
	store := ruleStore(t)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateElement(domain.Element{ID: "x", Name: "X", Type: "spaceship", PackageID: "p1"})
		return err
	})
	expectBlocked(t, err, "element_type")
	if _, ok := store.GetElement("x"); ok {
		t.Fatalf("blocked element must not be persisted")
	}
}

func TestRelationIntegrityRule(t *testing.T) {
	ctx := context.Background()
	store := ruleStore(t)

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRelation(domain.Relation{ID: "bad", Type: metamodel.Realization, SourceID: "app", TargetID: "host", PackageID: "p1"})
		return err
	})
	expectBlocked(t, err, "relation_integrity")

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRelation(domain.Relation{ID: "good", Type: metamodel.Serving, SourceID: "host", TargetID: "app", PackageID: "p1"})
		return err
	}); err != nil {
		t.Fatalf("serving host->app should commit: %v", err)
	}

	res, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRelation(domain.Relation{ID: "cross", Type: metamodel.Association, SourceID: "host", TargetID: "other", PackageID: "p1"})
		return err
	})
	if err != nil {
		t.Fatalf("cross-package relation should only warn: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected one warning, got %+v", res.Violations)
	}

	// Retyping an endpoint re-checks the relations attached to it.
	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateElement("app", func(e *domain.Element) error {
			e.Type = "business-actor"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("serving node->business-actor is allowed: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateRelation(domain.Relation{ID: "comp", Type: metamodel.Composition, SourceID: "app", TargetID: "host", PackageID: "p1"}); err != nil {
			return err
		}
		_, err := tx.UpdateElement("host", func(e *domain.Element) error {
			e.Type = "goal"
			return nil
		})
		return err
	})
	expectBlocked(t, err, "relation_integrity")
}

func TestFolderHierarchyRule(t *testing.T) {
	ctx := context.Background()
	store := ruleStore(t)

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateFolder(domain.Folder{ID: "a", Name: "A", PackageID: "p1"}); err != nil {
			return err
		}
		_, err := tx.CreateFolder(domain.Folder{ID: "b", Name: "B", ParentID: strPtr("a"), PackageID: "p1"})
		return err
	}); err != nil {
		t.Fatalf("create tree: %v", err)
	}

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateFolder("a", func(f *domain.Folder) error {
			f.ParentID = strPtr("b")
			return nil
		})
		return err
	})
	expectBlocked(t, err, "folder_hierarchy")

	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateFolder(domain.Folder{ID: "c", Name: "C", ParentID: strPtr("f2"), PackageID: "p1"})
		return err
	})
	expectBlocked(t, err, "folder_hierarchy")

	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateElement("app", func(e *domain.Element) error {
			e.FolderID = strPtr("f2")
			return nil
		})
		return err
	})
	expectBlocked(t, err, "folder_hierarchy")

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateElement("app", func(e *domain.Element) error {
			e.FolderID = strPtr("b")
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("filing into own folder: %v", err)
	}
}
