package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"periodcore/pkg/domain"
)

const kind domain.Kind = "employee_assignment"

func TestStorePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "periods.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.Path() != path || store.DB() == nil {
		t.Fatalf("unexpected store accessors")
	}
	var created domain.Period
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreatePeriod(domain.Period{
			Kind:       kind,
			ParentID:   "e1",
			StartAt:    domain.At(domain.DefaultMin),
			EndAt:      domain.At(time.Date(2014, 4, 30, 0, 0, 0, 0, time.UTC)),
			Attributes: map[string]any{"status": "active"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, ok := reopened.GetPeriod(created.ID)
	if !ok {
		t.Fatalf("expected period after reload")
	}
	if !got.Start().Equal(domain.DefaultMin) || !got.End().Equal(time.Date(2014, 4, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("bounds did not survive reload: %+v", got)
	}
	if got.Attributes["status"] != "active" {
		t.Fatalf("attributes did not survive reload: %+v", got.Attributes)
	}
}

func TestStoreFailedTransactionIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periods.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreatePeriod(domain.Period{ParentID: "e1"})
		return err
	})
	if err == nil {
		t.Fatalf("expected create error for missing kind")
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no snapshot rows, got %d", count)
	}
}

func TestStoreRollsBackMemoryWhenSnapshotFails(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "periods.db"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var kept domain.Period
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		kept, err = tx.CreatePeriod(domain.Period{Kind: kind, ParentID: "e1"})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	var lost domain.Period
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdatePeriod(kept.ID, func(p *domain.Period) error {
			p.ParentID = "e2"
			return nil
		}); err != nil {
			return err
		}
		var err error
		lost, err = tx.CreatePeriod(domain.Period{Kind: kind, ParentID: "e1"})
		return err
	})
	if err == nil {
		t.Fatalf("expected snapshot error on closed database")
	}
	if _, ok := store.GetPeriod(lost.ID); ok {
		t.Fatalf("period %s visible after failed transaction", lost.ID)
	}
	got, ok := store.GetPeriod(kept.ID)
	if !ok || got.ParentID != "e1" {
		t.Fatalf("expected committed period untouched, got %+v (found=%v)", got, ok)
	}
	if n := len(store.ListPeriods(kind)); n != 1 {
		t.Fatalf("expected 1 period after rollback, got %d", n)
	}
}
