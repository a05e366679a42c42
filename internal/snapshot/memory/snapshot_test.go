package memory

import (
	"context"
	"testing"
)

func TestSnapshotStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "rejects/page.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://rejects/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Get("rejects/page.html")
	if !ok {
		t.Fatal("expected stored object")
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestSnapshotStoreRequiresPath(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	if _, err := store.PutObject(context.Background(), "", "text/html", []byte("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
