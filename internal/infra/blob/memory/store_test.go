package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"archcore/internal/blob/core"
)

func TestStorePutReplacesAndLists(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	if _, err := store.Put(ctx, "pkg/a.json", strings.NewReader("one"), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := store.Put(ctx, "pkg/a.json", strings.NewReader("two!"), core.PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if info.Size != 4 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "other/b.json", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}

	got, rc, err := store.Get(ctx, "pkg/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "two!" || got.Metadata["k"] != "v" {
		t.Fatalf("unexpected object %q %+v", body, got)
	}

	list, err := store.List(ctx, "pkg/")
	if err != nil || len(list) != 1 || list[0].Key != "pkg/a.json" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(all))
	}
}

func TestStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Put(ctx, " ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	_, _ = store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{})
	if ok, _ := store.Delete(ctx, "k"); !ok {
		t.Fatalf("expected delete to report existing object")
	}
	if ok, _ := store.Delete(ctx, "k"); ok {
		t.Fatalf("expected second delete to report missing")
	}
}
