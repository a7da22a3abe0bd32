package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"archcore/internal/infra/persistence/memory"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// seed builds package "src" with a folder tree, three elements, two relations
// and a locked view drawing all of them.
func seed(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		steps := []func() error{
			func() error { _, err := tx.CreatePackage(domain.Package{ID: "src", Name: "Landscape"}); return err },
			func() error {
				_, err := tx.CreateFolder(domain.Folder{ID: "root", Name: "Root", Type: domain.FolderElement, PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateFolder(domain.Folder{ID: "child", Name: "Child", ParentID: ptr("root"), PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateElement(domain.Element{ID: "a", Name: "App", Type: "application-component", PackageID: "src", FolderID: ptr("child"),
					Properties: domain.Properties{"env": domain.StringValue("prod")}})
				return err
			},
			func() error {
				_, err := tx.CreateElement(domain.Element{ID: "b", Name: "Server", Type: "node", PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateElement(domain.Element{ID: "c", Name: "DB", Type: "system-software", PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateRelation(domain.Relation{ID: "r1", Type: metamodel.Serving, SourceID: "b", TargetID: "a", PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateRelation(domain.Relation{ID: "r2", Type: metamodel.Assignment, SourceID: "b", TargetID: "c", PackageID: "src"})
				return err
			},
			func() error {
				_, err := tx.CreateView(domain.View{ID: "v", Name: "Main", PackageID: "src", Layout: domain.Layout{
					Nodes: []domain.VisualNode{
						{ID: "na", Data: domain.NodeData{ElementID: "a"}},
						{ID: "nb", Data: domain.NodeData{ElementID: "b"}},
					},
					Edges: []domain.VisualEdge{{ID: "e", Source: "nb", Target: "na", Data: domain.EdgeData{RelationID: "r1"}}},
				}})
				return err
			},
			func() error {
				_, err := tx.UpdateView("v", func(v *domain.View) error {
					v.LockedBy = "alice"
					v.LockedAt = &at
					return nil
				})
				return err
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return store
}

func TestCreateSandboxCopiesPackage(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	m := NewManager(store)

	created, err := m.CreateSandbox(ctx, "src", "", "")
	require.NoError(t, err)
	assert.Regexp(t, `^sandbox_\d+_[0-9a-f]{9}$`, created.PackageID)
	assert.Equal(t, CopyStats{Folders: 2, Elements: 3, Relations: 2, Views: 1}, created.Stats)

	copyContents, ok := store.LoadPackage(created.PackageID)
	require.True(t, ok)
	assert.Contains(t, copyContents.Package.Description, "Landscape")
	require.Len(t, copyContents.Elements, 3)
	require.Len(t, copyContents.Relations, 2)

	elementIDs := make(map[string]domain.Element)
	for _, e := range copyContents.Elements {
		assert.Regexp(t, `^elem_`, e.ID)
		elementIDs[e.ID] = e
	}
	for _, r := range copyContents.Relations {
		assert.Contains(t, elementIDs, r.SourceID)
		assert.Contains(t, elementIDs, r.TargetID)
	}

	folders := make(map[string]domain.Folder)
	for _, f := range copyContents.Folders {
		folders[f.Name] = f
	}
	require.NotNil(t, folders["Child"].ParentID)
	assert.Equal(t, folders["Root"].ID, *folders["Child"].ParentID)
	for _, e := range copyContents.Elements {
		if e.Name == "App" {
			require.NotNil(t, e.FolderID)
			assert.Equal(t, folders["Child"].ID, *e.FolderID)
			assert.Equal(t, "prod", e.Properties["env"].String())
		}
	}

	require.Len(t, copyContents.Views, 1)
	view := copyContents.Views[0]
	assert.False(t, view.Locked())
	for _, n := range view.Layout.Nodes {
		assert.Contains(t, elementIDs, string(n.Data.ElementID))
	}
	relIDs := map[string]bool{copyContents.Relations[0].ID: true, copyContents.Relations[1].ID: true}
	assert.True(t, relIDs[string(view.Layout.Edges[0].Data.RelationID)])

	source, _ := store.LoadPackage("src")
	assert.Len(t, source.Elements, 3)
	assert.True(t, source.Views[0].Locked())
}

func TestCreateSandboxSkipsDanglingRelations(t *testing.T) {
	src := domain.PackageContents{
		Package:   domain.Package{ID: "x"},
		Elements:  []domain.Element{{ID: "a", Type: "node", PackageID: "x"}},
		Relations: []domain.Relation{{ID: "r", Type: metamodel.Flow, SourceID: "a", TargetID: "gone", PackageID: "x"}},
	}
	store := memory.NewStore(nil)
	m := NewManager(store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreatePackage(domain.Package{ID: "sandbox_1"}); err != nil {
			return err
		}
		_, stats, err := CopyInto(tx, m.ids, src, "sandbox_1")
		assert.Equal(t, 1, stats.Elements)
		assert.Equal(t, 0, stats.Relations)
		return err
	})
	require.NoError(t, err)
}

func TestCreateSandboxUnknownSource(t *testing.T) {
	m := NewManager(memory.NewStore(nil))
	_, err := m.CreateSandbox(context.Background(), "missing", "x", "")
	var nf domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestDeleteAndListSandboxes(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	m := NewManager(store)
	first, err := m.CreateSandbox(ctx, "src", "one", "")
	require.NoError(t, err)
	second, err := m.CreateSandbox(ctx, "src", "two", "custom")
	require.NoError(t, err)

	list := m.ListSandboxes()
	require.Len(t, list, 2)
	assert.True(t, IsSandbox(list[0].ID))
	assert.False(t, IsSandbox("src"))

	err = m.DeleteSandbox(ctx, "src")
	assert.ErrorIs(t, err, ErrNotSandbox)

	require.NoError(t, m.DeleteSandbox(ctx, first.PackageID))
	_, ok := store.GetPackage(first.PackageID)
	assert.False(t, ok)
	var owned int
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		owned = len(v.ListElements(first.PackageID)) + len(v.ListFolders(first.PackageID)) + len(v.ListViews(first.PackageID))
		return nil
	}))
	assert.Zero(t, owned)

	remaining := m.ListSandboxes()
	require.Len(t, remaining, 1)
	assert.Equal(t, second.PackageID, remaining[0].ID)
	assert.Equal(t, "custom", remaining[0].Description)
}
