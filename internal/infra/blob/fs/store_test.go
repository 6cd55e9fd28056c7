package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"growpod/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) { //nolint:cyclop
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "ledger/00000003-abc.json", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"blocks": "4"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "ledger/00000003-abc.json" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "ledger/00000003-abc.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected duplicate failure, got %v", err)
	}
	h, err := store.Head(ctx, "ledger/00000003-abc.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "ledger/00000003-abc.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata["blocks"] != "4" {
		t.Fatalf("unexpected get artifacts %q %+v", b, g)
	}
	if _, err := store.Put(ctx, "other.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "ledger/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "ledger/00000003-abc.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	ok, err := store.Delete(ctx, "ledger/00000003-abc.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "ledger/00000003-abc.json")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, err := store.Head(ctx, "ledger/00000003-abc.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "../escape.txt", "/abs.json", "a/b.meta"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestStoreMissingBlob(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, _, err := store.Get(ctx, "nope.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "k.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "k.json.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Head(ctx, "k.json"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != DefaultRoot || store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected store %s %s", store.Root(), store.Driver())
	}
}
