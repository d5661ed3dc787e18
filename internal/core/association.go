package core

import (
	"context"
	"sync"
	"time"

	"periodcore/pkg/domain"
)

// PeriodicAssociation is the parent-side view of one period kind. It
// memoizes each parent's current period and default record.
type PeriodicAssociation struct {
	svc   *Service
	model *Model

	mu       sync.Mutex
	current  map[string]domain.Period
	defaults map[string]domain.Period
}

// NewPeriodicAssociation binds kind, which must be registered with svc.
func NewPeriodicAssociation(svc *Service, kind domain.Kind) (*PeriodicAssociation, error) {
	model, err := svc.Model(kind)
	if err != nil {
		return nil, err
	}
	return &PeriodicAssociation{
		svc:      svc,
		model:    model,
		current:  make(map[string]domain.Period),
		defaults: make(map[string]domain.Period),
	}, nil
}

// Kind returns the associated period kind.
func (a *PeriodicAssociation) Kind() domain.Kind { return a.model.Kind() }

// Current returns the period of parentID covering today, or its default
// record when none does. The answer is memoized until Reset or until it no
// longer covers today.
func (a *PeriodicAssociation) Current(ctx context.Context, parentID string) (domain.Period, error) {
	a.mu.Lock()
	p, ok := a.current[parentID]
	a.mu.Unlock()
	if ok && a.model.IsCurrent(p) {
		return p.Clone(), nil
	}
	found, ok, err := a.svc.Current(ctx, a.model.Kind(), parentID, time.Time{})
	if err != nil {
		return domain.Period{}, err
	}
	if !ok {
		found = a.Default(parentID)
	}
	a.SetCurrent(parentID, found)
	return found.Clone(), nil
}

// Default returns a memoized unsaved record for parentID with default bounds.
func (a *PeriodicAssociation) Default(parentID string) domain.Period {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.defaults[parentID]; ok {
		return p.Clone()
	}
	p := a.model.New(parentID, nil)
	a.defaults[parentID] = p
	return p.Clone()
}

// Preload loads the current periods of every parent in parentIDs with a
// single store view and memoizes them. Parents without a current period get
// their default record.
func (a *PeriodicAssociation) Preload(ctx context.Context, parentIDs []string) error {
	found, err := a.svc.currentFor(ctx, a.model.Kind(), parentIDs, time.Time{})
	if err != nil {
		return err
	}
	for _, parentID := range parentIDs {
		p, ok := found[parentID]
		if !ok {
			p = a.Default(parentID)
		}
		a.SetCurrent(parentID, p)
	}
	return nil
}

// SetCurrent overrides the memoized current period of parentID.
func (a *PeriodicAssociation) SetCurrent(parentID string, p domain.Period) {
	a.mu.Lock()
	a.current[parentID] = p.Clone()
	a.mu.Unlock()
}

// Reset forgets the memoized periods of parentIDs, or of every parent when
// none is given.
func (a *PeriodicAssociation) Reset(parentIDs ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(parentIDs) == 0 {
		clear(a.current)
		clear(a.defaults)
		return
	}
	for _, id := range parentIDs {
		delete(a.current, id)
		delete(a.defaults, id)
	}
}
