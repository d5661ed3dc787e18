package domain

import (
	"context"
	"time"
)

// Transaction exposes the period operations that a persistence implementation
// must support within an atomic scope. Writes never validate; validation is
// the caller's responsibility.
type Transaction interface {
	Snapshot() TransactionView
	FindPeriod(id string) (Period, bool)
	// FindSiblings returns the periods of kind under parentID except excludeID.
	FindSiblings(kind Kind, parentID, excludeID string) []Period
	// FindByEnd returns the first sibling whose end bound equals end.
	FindByEnd(kind Kind, parentID, excludeID string, end time.Time) (Period, bool)
	// FindByStart returns the first sibling whose start bound equals start.
	FindByStart(kind Kind, parentID, excludeID string, start time.Time) (Period, bool)
	CreatePeriod(Period) (Period, error)
	UpdatePeriod(id string, mutator func(*Period) error) (Period, error)
	DeletePeriod(id string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	// ListCovering returns, for each parent in parentIDs, the periods of kind covering at.
	ListCovering(kind Kind, parentIDs []string, at time.Time) []Period
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPeriod(id string) (Period, bool)
	ListPeriods(kind Kind) []Period
}
