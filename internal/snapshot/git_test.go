package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archcore/pkg/domain"
)

func TestGitCommitterRecordsExports(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := seeded(t)
	committer := NewGitCommitter(root, "Ada", "ada@example.com")
	committer.now = func() time.Time { return exported }
	codec := NewCodec(store, afero.NewOsFs(), root,
		WithClock(func() time.Time { return exported }),
		WithCommitter(committer))

	first, err := codec.Export(ctx, "pkg")
	require.NoError(t, err)
	require.NotEmpty(t, first.Revision)

	repo, err := git.PlainOpen(root)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Export Landscape (pkg)", commit.Message)
	assert.Equal(t, "Ada", commit.Author.Name)
	_, err = commit.File("pkg/elements/e1.json")
	assert.NoError(t, err)

	again, err := codec.Export(ctx, "pkg")
	require.NoError(t, err)
	assert.Empty(t, again.Revision, "unchanged export is not committed")

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error { return tx.DeleteElement("e2") })
	require.NoError(t, err)
	third, err := codec.Export(ctx, "pkg")
	require.NoError(t, err)
	require.NotEmpty(t, third.Revision)

	head, err = repo.Head()
	require.NoError(t, err)
	commit, err = repo.CommitObject(head.Hash())
	require.NoError(t, err)
	_, err = commit.File("pkg/elements/e2.json")
	assert.Error(t, err, "deleted element file is removed from the tree")
	assert.Equal(t, filepath.Join(root, "pkg"), third.Dir)
}

func TestGitCommitOnlyTakesExportDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	committer := NewGitCommitter(root, "", "")
	committer.now = func() time.Time { return exported }

	write := func(rel, body string) {
		t.Helper()
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	write("a/package.json", `{"id":"a"}`)
	write("b/package.json", `{"id":"b"}`)
	_, err := committer.Commit(ctx, filepath.Join(root, "a"), "export a")
	require.NoError(t, err)
	_, err = committer.Commit(ctx, filepath.Join(root, "b"), "export b")
	require.NoError(t, err)

	write("a/package.json", `{"id":"a","name":"A2"}`)
	write("b/package.json", `{"id":"b","name":"B2"}`)
	hash, err := committer.Commit(ctx, filepath.Join(root, "a"), "export a again")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	repo, err := git.PlainOpen(root)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	fileA, err := commit.File("a/package.json")
	require.NoError(t, err)
	bodyA, err := fileA.Contents()
	require.NoError(t, err)
	assert.Contains(t, bodyA, "A2")
	fileB, err := commit.File("b/package.json")
	require.NoError(t, err)
	bodyB, err := fileB.Contents()
	require.NoError(t, err)
	assert.NotContains(t, bodyB, "B2", "another package's edit rode along")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	status, err := wt.Status()
	require.NoError(t, err)
	assert.Equal(t, git.Modified, status.File("b/package.json").Worktree)

	again, err := committer.Commit(ctx, filepath.Join(root, "a"), "noop")
	require.NoError(t, err)
	assert.Empty(t, again, "dirty sibling dir does not force a commit")
}
