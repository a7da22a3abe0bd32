package core

import (
	"context"
	"errors"
	"testing"

	"archcore/internal/repository"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

func str(s string) *string { return &s }

func TestServiceEntityLifecycle(t *testing.T) {
	svc := newSeededService(t)
	ctx := context.Background()

	folder := svc.CreateFolder(ctx, domain.Folder{ID: "infra", Name: "Infra", PackageID: "main"})
	if !folder.Success || folder.Data.Type != domain.FolderGeneric {
		t.Fatalf("create folder: %+v", folder)
	}
	moved := svc.UpdateElement(ctx, "srv", Patch{Name: str("Server B"), Folder: str("infra")})
	if !moved.Success || moved.Data.Name != "Server B" || moved.Data.FolderID == nil || *moved.Data.FolderID != "infra" {
		t.Fatalf("update element: %+v", moved)
	}
	if r := svc.UpdateFolder(ctx, "infra", Patch{Folder: str("infra")}); r.Success || !errors.Is(r.Err(), ErrMoveRefused) {
		t.Fatalf("expected self-parenting to be refused, got %+v", r)
	}

	rel := svc.CreateRelation(ctx, domain.Relation{ID: "assoc", Type: metamodel.Association, SourceID: "app", TargetID: "srv", PackageID: "main"})
	if !rel.Success {
		t.Fatalf("create relation: %s", rel.Error)
	}
	if r := svc.CreateElement(ctx, domain.Element{Name: "Warp", Type: "warp-drive", PackageID: "main"}); r.Success || !errors.Is(r.Err(), repository.ErrUnknownElementType) {
		t.Fatalf("expected unknown type error, got %+v", r)
	}

	if r := svc.DeleteFolder(ctx, "infra"); !r.Success || !r.Data {
		t.Fatalf("delete folder: %+v", r)
	}
	pkg := svc.GetPackage(ctx, "main").Data
	for _, e := range pkg.Elements {
		if e.FolderID != nil {
			t.Fatalf("element %s still in deleted folder", e.ID)
		}
	}

	if r := svc.DeleteElement(ctx, "srv"); !r.Success {
		t.Fatalf("delete element: %s", r.Error)
	}
	pkg = svc.GetPackage(ctx, "main").Data
	if len(pkg.Elements) != 1 || len(pkg.Relations) != 0 {
		t.Fatalf("expected relations to cascade, got %d elements %d relations", len(pkg.Elements), len(pkg.Relations))
	}
	if nodes := pkg.Views[0].Layout.Nodes; len(nodes) != 1 || nodes[0].ID != "n2" {
		t.Fatalf("expected server node pruned, got %+v", nodes)
	}
	if !pkg.Package.UpdatedAt.Equal(fixedTime) {
		t.Fatalf("expected package timestamp from clock, got %v", pkg.Package.UpdatedAt)
	}
}

func TestServiceViewCrudKeepsLocks(t *testing.T) {
	svc := newSeededService(t)
	ctx := context.Background()

	created := svc.CreateView(ctx, domain.View{ID: "v2", Name: "Draft", PackageID: "main", LockedBy: "mallory"})
	if !created.Success || created.Data.LockedBy != "" {
		t.Fatalf("create view: %+v", created)
	}
	if r := svc.CheckOutView(ctx, "v", "alice", ""); !r.Success {
		t.Fatalf("check out: %s", r.Error)
	}
	layout := domain.Layout{Nodes: []domain.VisualNode{{ID: "only", Data: domain.NodeData{ElementID: "app"}}}}
	updated := svc.UpdateView(ctx, "v", Patch{Name: str("Context"), Layout: &layout})
	if !updated.Success || updated.Data.Name != "Context" || len(updated.Data.Layout.Nodes) != 1 {
		t.Fatalf("update view: %+v", updated)
	}
	if updated.Data.LockedBy != "alice" {
		t.Fatalf("update dropped the lock: %+v", updated.Data)
	}
	if r := svc.DeleteView(ctx, "v2"); !r.Success {
		t.Fatalf("delete view: %s", r.Error)
	}
	if r := svc.DeleteView(ctx, "v2"); r.Success {
		t.Fatalf("expected missing view to fail")
	} else {
		var nf domain.ErrNotFound
		if !errors.As(r.Err(), &nf) {
			t.Fatalf("expected not found, got %v", r.Err())
		}
	}
	if r := svc.CreateFolder(ctx, domain.Folder{Name: "x", PackageID: "nope"}); r.Success {
		t.Fatalf("expected unknown package to fail")
	}
}

func TestServiceElementPropertiesFollowSchemas(t *testing.T) {
	svc := newSeededService(t, WithPropertySchemas(domain.PropertySchema{
		ElementType: "node",
		Attributes: map[string]domain.AttributeDef{
			"env": {Kind: domain.KindEnum, EnumValues: []string{"prod", "staging"}},
		},
	}))
	ctx := context.Background()

	bad := svc.UpdateElement(ctx, "srv", Patch{Properties: domain.Properties{"env": domain.StringValue("dev")}})
	var perr domain.PropertyError
	if bad.Success || !errors.As(bad.Err(), &perr) || perr.Attribute != "env" {
		t.Fatalf("expected schema failure, got %+v", bad)
	}
	good := svc.UpdateElement(ctx, "srv", Patch{Properties: domain.Properties{"env": domain.StringValue("staging")}})
	if !good.Success || good.Data.Properties["env"].Kind() != domain.KindEnum {
		t.Fatalf("expected coerced enum, got %+v", good)
	}
}

func TestServiceSavePackageCannotTouchLocks(t *testing.T) {
	svc := newSeededService(t)
	ctx := context.Background()
	stale := svc.GetPackage(ctx, "main").Data
	if r := svc.CheckOutView(ctx, "v", "alice", "editing"); !r.Success {
		t.Fatalf("check out: %s", r.Error)
	}
	if r := svc.SavePackage(ctx, stale); !r.Success {
		t.Fatalf("stale save: %s", r.Error)
	}
	if svc.CanEdit(ctx, "v", "bob").Data {
		t.Fatalf("stale save released alice's lock")
	}

	forged := svc.GetPackage(ctx, "main").Data
	forged.Views[0].LockedBy = "mallory"
	if r := svc.SavePackage(ctx, forged); !r.Success {
		t.Fatalf("forged save: %s", r.Error)
	}
	if info := svc.LockInfo(ctx, "v"); info.Data == nil || info.Data.LockedBy != "alice" {
		t.Fatalf("forged save changed the holder: %+v", info.Data)
	}
}
