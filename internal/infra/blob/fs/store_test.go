package fs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"geodraft/internal/blob/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	info, err := store.Put(ctx, "ds/branch/export.geojson", strings.NewReader(`{"type":"FeatureCollection"}`), core.PutOptions{
		ContentType: "application/geo+json",
		Metadata:    map[string]string{"requested_by": "alice"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(`{"type":"FeatureCollection"}`)) {
		t.Fatalf("unexpected size %d", info.Size)
	}
	if info.ETag == "" {
		t.Fatalf("expected etag")
	}

	got, rc, err := store.Get(ctx, "ds/branch/export.geojson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != `{"type":"FeatureCollection"}` {
		t.Fatalf("unexpected body %s", body)
	}
	if got.ContentType != "application/geo+json" {
		t.Fatalf("content type lost: %q", got.ContentType)
	}
	if got.Metadata["requested_by"] != "alice" {
		t.Fatalf("metadata lost: %v", got.Metadata)
	}
}

func TestOverwritePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	first, err := store.Put(ctx, "doc.txt", strings.NewReader("one"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, "doc.txt", strings.NewReader("two"), core.PutOptions{})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if second.ETag == first.ETag {
		t.Fatalf("etag should change on overwrite")
	}
	head, err := store.Head(ctx, "doc.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != 3 {
		t.Fatalf("unexpected size after overwrite: %d", head.Size)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/abs/path", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestNotFoundAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if removed, err := store.Delete(ctx, "missing"); err != nil || removed {
		t.Fatalf("delete of missing key: removed=%v err=%v", removed, err)
	}
	if _, err := store.Put(ctx, "present", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if removed, err := store.Delete(ctx, "present"); err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, err := store.Head(ctx, "present"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("blob survived delete")
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, key := range []string{"a/one", "a/two", "b/three"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/one" || infos[1].Key != "a/two" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 blobs, got %d", len(all))
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	url, err := store.PresignURL(ctx, "a/b", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "http://local.blob/a/b" {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.PresignURL(ctx, "a/b", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for PUT presign, got %v", err)
	}
}
