package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cockroachdb/errors"

	"periodcore/internal/blob/core"
)

func TestStoreRoundTripAndIsolation(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	md := map[string]string{"periods": "2"}
	if _, err := store.Put(ctx, "snapshots/a.json", bytes.NewReader([]byte("data")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["periods"] = "changed"
	info, rc, err := store.Get(ctx, "snapshots/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "data" || info.Metadata["periods"] != "2" {
		t.Fatalf("unexpected blob %q %+v", body, info.Metadata)
	}
	info.Metadata["periods"] = "mutated"
	head, err := store.Head(ctx, "snapshots/a.json")
	if err != nil || head.Metadata["periods"] != "2" || head.ETag == "" {
		t.Fatalf("head: %+v %v", head, err)
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "broken", errReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	list, _ := store.List(ctx, "")
	if len(list) != 1 {
		t.Fatalf("expected only k listed, got %+v", list)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
