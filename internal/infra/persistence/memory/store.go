// Package memory provides an in-memory implementation of the period
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periodcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Period aliases domain.Period for in-memory persistence operations.
	Period = domain.Period
	// Kind aliases domain.Kind.
	Kind = domain.Kind
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	periods map[string]Period
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Periods map[string]Period `json:"periods"`
}

func newMemoryState() memoryState {
	return memoryState{periods: make(map[string]Period)}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{Periods: make(map[string]Period, len(state.periods))}
	for k, v := range state.periods {
		s.Periods[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Periods {
		if v.ID == "" {
			v.ID = k
		}
		state.periods[v.ID] = v.Clone()
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.periods {
		cloned.periods[k] = v.Clone()
	}
	return cloned
}

// Store provides an in-memory transactional store for periods.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
// A nil engine selects domain.NewDefaultRulesEngine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewDefaultRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the clock used to stamp CreatedAt/UpdatedAt.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListPeriods returns the periods of kind, sorted by start. An empty kind lists all periods.
func (v transactionView) ListPeriods(kind Kind) []Period {
	out := make([]Period, 0, len(v.state.periods))
	for _, p := range v.state.periods {
		if kind != "" && p.Kind != kind {
			continue
		}
		out = append(out, p.Clone())
	}
	domain.SortByStart(out)
	return out
}

// ListSiblings returns every period of kind under parentID, sorted by start.
func (v transactionView) ListSiblings(kind Kind, parentID string) []Period {
	return v.state.filter(kind, parentID, "", nil)
}

// FindPeriod retrieves a period by ID from the snapshot.
func (v transactionView) FindPeriod(id string) (Period, bool) {
	p, ok := v.state.periods[id]
	if !ok {
		return Period{}, false
	}
	return p.Clone(), true
}

// ListCovering returns the periods of kind covering at for the given parents.
func (v transactionView) ListCovering(kind Kind, parentIDs []string, at time.Time) []Period {
	parents := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	out := make([]Period, 0, len(parentIDs))
	for _, p := range v.state.periods {
		if p.Kind != kind {
			continue
		}
		if _, ok := parents[p.ParentID]; !ok {
			continue
		}
		if p.Covers(at) {
			out = append(out, p.Clone())
		}
	}
	domain.SortByStart(out)
	return out
}

// filter returns the clones of kind/parentID periods other than excludeID
// that satisfy match, sorted by start.
func (s *memoryState) filter(kind Kind, parentID, excludeID string, match func(Period) bool) []Period {
	var out []Period
	for id, p := range s.periods {
		if p.Kind != kind || p.ParentID != parentID || (excludeID != "" && id == excludeID) {
			continue
		}
		if match != nil && !match(p) {
			continue
		}
		out = append(out, p.Clone())
	}
	domain.SortByStart(out)
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the store state only when fn succeeds and no
// blocking rule violation is raised.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetPeriod returns a committed period by ID.
func (s *Store) GetPeriod(id string) (Period, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindPeriod(id)
}

// ListPeriods returns committed periods of kind; an empty kind lists all.
func (s *Store) ListPeriods(kind Kind) []Period {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPeriods(kind)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindPeriod exposes period lookup within the transaction scope.
func (tx *transaction) FindPeriod(id string) (Period, bool) {
	return newTransactionView(&tx.state).FindPeriod(id)
}

// FindSiblings returns the other periods sharing kind and parent.
func (tx *transaction) FindSiblings(kind Kind, parentID, excludeID string) []Period {
	return tx.state.filter(kind, parentID, excludeID, nil)
}

// FindByEnd returns the first sibling, by start order, ending exactly at end.
func (tx *transaction) FindByEnd(kind Kind, parentID, excludeID string, end time.Time) (Period, bool) {
	matches := tx.state.filter(kind, parentID, excludeID, func(p Period) bool {
		return p.EndAt != nil && p.EndAt.Equal(end)
	})
	if len(matches) == 0 {
		return Period{}, false
	}
	return matches[0], true
}

// FindByStart returns the first sibling starting exactly at start.
func (tx *transaction) FindByStart(kind Kind, parentID, excludeID string, start time.Time) (Period, bool) {
	matches := tx.state.filter(kind, parentID, excludeID, func(p Period) bool {
		return p.StartAt != nil && p.StartAt.Equal(start)
	})
	if len(matches) == 0 {
		return Period{}, false
	}
	return matches[0], true
}

// CreatePeriod stores a new period within the transaction. An empty ID is
// replaced with a fresh UUID; a zero CreatedAt is stamped with the
// transaction time.
func (tx *transaction) CreatePeriod(p Period) (Period, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.periods[p.ID]; exists {
		return Period{}, fmt.Errorf("period %q already exists", p.ID)
	}
	if p.Kind == "" {
		return Period{}, fmt.Errorf("period %q has no kind", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now
	}
	p.UpdatedAt = tx.now
	tx.state.periods[p.ID] = p.Clone()
	after := p.Clone()
	tx.recordChange(Change{Kind: p.Kind, Action: domain.ActionCreate, After: &after})
	return p.Clone(), nil
}

// UpdatePeriod mutates a period using the provided mutator function. The ID
// and kind cannot be changed.
func (tx *transaction) UpdatePeriod(id string, mutator func(*Period) error) (Period, error) {
	current, ok := tx.state.periods[id]
	if !ok {
		return Period{}, domain.NotFoundError{ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Period{}, err
	}
	current.ID = id
	current.Kind = before.Kind
	current.UpdatedAt = tx.now
	tx.state.periods[id] = current.Clone()
	after := current.Clone()
	tx.recordChange(Change{Kind: current.Kind, Action: domain.ActionUpdate, Before: &before, After: &after})
	return current.Clone(), nil
}

// DeletePeriod removes a period from the transaction state.
func (tx *transaction) DeletePeriod(id string) error {
	current, ok := tx.state.periods[id]
	if !ok {
		return domain.NotFoundError{ID: id}
	}
	delete(tx.state.periods, id)
	before := current.Clone()
	tx.recordChange(Change{Kind: current.Kind, Action: domain.ActionDelete, Before: &before})
	return nil
}
