package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"geodraft/internal/blob/core"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	info, err := store.Put(ctx, "exports/run-1.geojson", strings.NewReader("payload"), core.PutOptions{ContentType: "application/geo+json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	got, rc, err := store.Get(ctx, "exports/run-1.geojson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "payload" || got.ContentType != "application/geo+json" {
		t.Fatalf("round trip mismatch: %s %+v", body, got)
	}

	if _, err := store.Head(ctx, "exports/run-1.geojson"); err != nil {
		t.Fatalf("head: %v", err)
	}
	if removed, err := store.Delete(ctx, "exports/run-1.geojson"); err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, _, err := store.Get(ctx, "exports/run-1.geojson"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListSortedByPrefix(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"b/two", "a/one", "a/zero"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/one" || infos[1].Key != "a/zero" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.PresignURL(ctx, "missing", core.SignedURLOptions{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "present", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := store.PresignURL(ctx, "present", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "memory://blob/present" {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.PresignURL(ctx, "present", core.SignedURLOptions{Method: "DELETE"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	if _, err := New().Put(context.Background(), "  ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected rejection of blank key")
	}
}
