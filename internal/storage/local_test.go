package storage

import (
	"context"
	"errors"
	"testing"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	return store
}

func TestLocalPutGet(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	data := []byte(`{"report_id":"abc"}`)
	if err := store.Put(ctx, "reports/orders/2026-08-29/abc.json", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "reports/orders/2026-08-29/abc.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}
}

func TestLocalPutOverwrites(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "obj", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "obj", []byte("v2")); err != nil {
		t.Fatalf("overwrite Put failed: %v", err)
	}
	got, _ := store.Get(ctx, "obj")
	if string(got) != "v2" {
		t.Errorf("Get = %q, want v2", got)
	}
}

func TestLocalGetMissing(t *testing.T) {
	store := newLocal(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalExists(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "here", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.Exists(ctx, "here")
	if err != nil || !exists {
		t.Errorf("Exists(here) = %v, %v, want true", exists, err)
	}
	exists, err = store.Exists(ctx, "gone")
	if err != nil || exists {
		t.Errorf("Exists(gone) = %v, %v, want false", exists, err)
	}
}

func TestLocalList(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	objects := []string{
		"reports/orders/a.json",
		"reports/orders/b.json",
		"reports/customers/c.json",
		"migrations/orders/v0002.json",
	}
	for _, obj := range objects {
		if err := store.Put(ctx, obj, []byte("x")); err != nil {
			t.Fatalf("Put %s failed: %v", obj, err)
		}
	}

	got, err := store.List(ctx, "reports/orders")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List = %v, want 2 entries", got)
	}
	for _, path := range got {
		if path != "reports/orders/a.json" && path != "reports/orders/b.json" {
			t.Errorf("unexpected listing entry %q", path)
		}
	}

	empty, err := store.List(ctx, "reports/nothing")
	if err != nil {
		t.Fatalf("List of missing prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List of missing prefix = %v, want empty", empty)
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "obj", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if _, err := store.Get(ctx, "obj"); !errors.Is(err, ErrObjectNotFound) {
		t.Error("object must be gone after Delete")
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "../escape", []byte("x")); err == nil {
		t.Error("Put outside the storage root must fail")
	}
	if _, err := store.Get(ctx, "../../etc/passwd"); err == nil {
		t.Error("Get outside the storage root must fail")
	}
}
