package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"archcore/internal/infra/persistence/memory"
	"archcore/internal/infra/persistence/postgres/testutil"
	"archcore/pkg/domain"
)

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return db, conn
}

func TestNewStoreCreatesStateTableAndPersists(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreatePackage(domain.Package{ID: "pkg", Name: "Landscape"}); err != nil {
			return err
		}
		_, err := tx.CreateElement(domain.Element{ID: "e1", Name: "Server", Type: "node", PackageID: "pkg"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(conn.Tables["state"]) != 5 {
		t.Fatalf("expected 5 buckets persisted, got %d", len(conn.Tables["state"]))
	}

	reloaded, err := NewStore("stub", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	contents, ok := reloaded.LoadPackage("pkg")
	if !ok || len(contents.Elements) != 1 || contents.Elements[0].Name != "Server" {
		t.Fatalf("expected hydrated package, got %+v", contents)
	}
	if reloaded.DB() == nil {
		t.Fatalf("expected db handle")
	}
}

func TestCommitFailureRollsBackMemoryState(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreatePackage(domain.Package{ID: "pkg"})
		return err
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if _, ok := store.GetPackage("pkg"); ok {
		t.Fatalf("memory state published despite failed commit")
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	_, conn := openStub(t)
	conn.FailPing = true
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}

	_, conn = openStub(t)
	conn.FailQuery = true
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "select state") {
		t.Fatalf("expected select error, got %v", err)
	}
}

func countInserts(conn *testutil.StubConn) int {
	n := 0
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(strings.TrimSpace(stmt), "INSERT") {
			n++
		}
	}
	return n
}

func TestPersistWritesOnlyChangedBuckets(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreatePackage(domain.Package{ID: "pkg"})
		return err
	}); err != nil {
		t.Fatalf("create package: %v", err)
	}
	if got := countInserts(conn); got != len(memory.Buckets) {
		t.Fatalf("expected every bucket on first write, got %d", got)
	}

	before := countInserts(conn)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateFolder(domain.Folder{ID: "f1", Name: "Apps", PackageID: "pkg"})
		return err
	}); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	written := countInserts(conn) - before
	if written == 0 || written >= len(memory.Buckets) {
		t.Fatalf("expected a partial rewrite, got %d upserts", written)
	}
}
