package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"regland/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "runs/r1/links.tsv", strings.NewReader("hello"), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"run": "r1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 5 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "runs/r1/links.tsv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	if _, err := store.Put(ctx, "runs/r2/report.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}

	head, err := store.Head(ctx, "runs/r1/links.tsv")
	if err != nil || head.ContentType != "text/plain" || head.Metadata["run"] != "r1" || head.ETag != info.ETag {
		t.Fatalf("head: %+v %v", head, err)
	}
	_, rc, err := store.Get(ctx, "runs/r1/links.tsv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("body %q", body)
	}

	list, err := store.List(ctx, "runs/")
	if err != nil || len(list) != 2 || list[0].Key != "runs/r1/links.tsv" || list[1].Key != "runs/r2/report.json" {
		t.Fatalf("list: %+v %v", list, err)
	}
	if ok, err := store.Delete(ctx, "runs/r1/links.tsv"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "runs", "r1", "links.tsv.meta")); !os.IsNotExist(err) {
		t.Fatalf("sidecar should be removed: %v", err)
	}
	if _, _, err := store.Get(ctx, "runs/r1/links.tsv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ok, err := store.Delete(ctx, "runs/r1/links.tsv"); ok || err != nil {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	store := newTempStore(t)
	for _, key := range []string{"", "   ", "/etc/passwd", "../outside", "a/../../b", "x.meta"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key, got %v", key, err)
		}
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != DefaultRoot {
		t.Fatalf("root %q", store.Root())
	}
	if _, err := os.Stat(DefaultRoot); err != nil {
		t.Fatalf("root not created: %v", err)
	}
}
