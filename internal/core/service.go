package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"periodcore/pkg/domain"
)

// Service runs the period lifecycle against a persistent store. Every save
// and destroy is one store transaction: defaults, validation, the write and
// all corrective sibling rewrites commit together or not at all.
type Service struct {
	store    domain.PersistentStore
	registry *Registry
	logger   *slog.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	clock    func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger  *slog.Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   func() time.Time
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  slog.New(slog.DiscardHandler),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides "now" for every registered model.
func WithClock(clock func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = clock
	}
}

// NewService constructs a service over store for the kinds in registry.
func NewService(store domain.PersistentStore, registry *Registry, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		store:    store,
		registry: registry,
		logger:   o.logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
		clock:    o.clock,
	}
}

// Store returns the underlying store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the kind registry.
func (s *Service) Registry() *Registry { return s.registry }

// Model returns the model for kind, bound to the service clock.
func (s *Service) Model(kind domain.Kind) (*Model, error) {
	m, err := s.registry.Model(kind)
	if err != nil {
		return nil, err
	}
	if s.clock != nil {
		m = m.WithClock(s.clock)
	}
	return m, nil
}

// Outcome is the full effect of a save or destroy.
type Outcome struct {
	// Period is the saved record, or the destroyed one.
	Period     domain.Period
	Resolution Resolution
	// Rules holds non-blocking commit-time rule findings.
	Rules domain.Result
}

// Save persists p and rewrites its siblings so that none overlaps it. A
// record with an empty or unknown ID is created with default bounds.
func (s *Service) Save(ctx context.Context, p domain.Period) (domain.Period, domain.Result, error) {
	out, err := s.SaveOutcome(ctx, p)
	return out.Period, out.Rules, err
}

// SaveOutcome is Save reporting the sibling corrections as well.
func (s *Service) SaveOutcome(ctx context.Context, p domain.Period) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, "save", func(ctx context.Context) error {
		model, err := s.Model(p.Kind)
		if err != nil {
			return err
		}
		rules, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			var before *domain.Period
			if p.ID != "" {
				if existing, ok := tx.FindPeriod(p.ID); ok {
					if existing.Kind != p.Kind {
						return errors.Newf("period %s is a %s, not a %s", p.ID, existing.Kind, p.Kind)
					}
					before = &existing
				}
			}
			rec := p.Clone()
			if before == nil {
				model.ApplyDefaults(&rec)
			} else {
				model.normalize(&rec)
			}
			if v := model.Validate(before, rec); len(v.Violations) > 0 {
				return &domain.InvalidRecordError{Kind: model.Kind(), ID: rec.ID, Violations: v.Violations}
			}
			saved, err := write(tx, before, rec)
			if err != nil {
				return err
			}
			res, err := model.resolveOverlaps(tx, saved)
			if err != nil {
				return err
			}
			if model.Gapless() {
				gaps, err := model.adjustGaps(tx, before, saved)
				if err != nil {
					return err
				}
				res.merge(gaps)
			}
			out.Period, out.Resolution = saved, res
			return nil
		})
		out.Rules = rules
		if err != nil {
			s.logRejection(ctx, "save", p.Kind, p.ID, err)
			return err
		}
		s.logRules(ctx, out.Rules)
		s.record(ctx, model.Kind(), out)
		return nil
	})
	return out, err
}

func write(tx domain.Transaction, before *domain.Period, rec domain.Period) (domain.Period, error) {
	if before == nil {
		return tx.CreatePeriod(rec)
	}
	return tx.UpdatePeriod(rec.ID, func(cur *domain.Period) error {
		cur.ParentID = rec.ParentID
		cur.StartAt = rec.StartAt
		cur.EndAt = rec.EndAt
		cur.Attributes = rec.Attributes
		return nil
	})
}

// Destroy removes the period id of kind. For gapless kinds a record anchored
// to Min or Max is refused with a *domain.DestroyRejectedError and left
// intact; otherwise the preceding sibling is extended over the freed span.
func (s *Service) Destroy(ctx context.Context, kind domain.Kind, id string) (domain.Result, error) {
	out, err := s.DestroyOutcome(ctx, kind, id)
	return out.Rules, err
}

// DestroyOutcome is Destroy reporting the gap closure as well.
func (s *Service) DestroyOutcome(ctx context.Context, kind domain.Kind, id string) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, "destroy", func(ctx context.Context) error {
		model, err := s.Model(kind)
		if err != nil {
			return err
		}
		rules, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			existing, ok := tx.FindPeriod(id)
			if !ok || existing.Kind != kind {
				return domain.NotFoundError{Kind: kind, ID: id}
			}
			if model.Gapless() {
				if err := model.checkDestroy(existing); err != nil {
					return err
				}
			}
			if err := tx.DeletePeriod(id); err != nil {
				return err
			}
			out.Period = existing
			if !model.Gapless() {
				return nil
			}
			res, err := model.closeGap(tx, existing)
			if err != nil {
				return err
			}
			out.Resolution = res
			return nil
		})
		out.Rules = rules
		if err != nil {
			s.logRejection(ctx, "destroy", kind, id, err)
			return err
		}
		s.logRules(ctx, out.Rules)
		s.record(ctx, kind, out)
		return nil
	})
	return out, err
}

// TryDestroy is Destroy reporting a refusal as false instead of an error.
func (s *Service) TryDestroy(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	_, err := s.Destroy(ctx, kind, id)
	if errors.Is(err, domain.ErrDestroyRejected) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the period with id.
func (s *Service) Get(_ context.Context, id string) (domain.Period, error) {
	p, ok := s.store.GetPeriod(id)
	if !ok {
		return domain.Period{}, domain.NotFoundError{ID: id}
	}
	return p, nil
}

// List returns every period of kind ordered by start.
func (s *Service) List(_ context.Context, kind domain.Kind) []domain.Period {
	out := s.store.ListPeriods(kind)
	domain.SortByStart(out)
	return out
}

// Siblings returns the periods of kind under parentID ordered by start.
func (s *Service) Siblings(ctx context.Context, kind domain.Kind, parentID string) ([]domain.Period, error) {
	if _, err := s.registry.Model(kind); err != nil {
		return nil, err
	}
	var out []domain.Period
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		out = v.ListSiblings(kind, parentID)
		return nil
	})
	domain.SortByStart(out)
	return out, err
}

// Current returns the period of kind under parentID covering at. A zero at
// means today.
func (s *Service) Current(ctx context.Context, kind domain.Kind, parentID string, at time.Time) (domain.Period, bool, error) {
	found, err := s.currentFor(ctx, kind, []string{parentID}, at)
	if err != nil {
		return domain.Period{}, false, err
	}
	p, ok := found[parentID]
	return p, ok, nil
}

// currentFor fetches the covering period of every parent in one view.
func (s *Service) currentFor(ctx context.Context, kind domain.Kind, parentIDs []string, at time.Time) (map[string]domain.Period, error) {
	model, err := s.Model(kind)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = model.Today()
	} else {
		at = model.Timeline().Truncate(at)
	}
	out := make(map[string]domain.Period, len(parentIDs))
	err = s.store.View(ctx, func(v domain.TransactionView) error {
		for _, p := range v.ListCovering(kind, parentIDs, at) {
			if _, seen := out[p.ParentID]; !seen {
				out[p.ParentID] = p
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	span.End(err)
	return err
}

func (s *Service) record(ctx context.Context, kind domain.Kind, out Outcome) {
	if out.Resolution.Empty() {
		return
	}
	log := s.logger.With("kind", string(kind), "parent_id", out.Period.ParentID, "record_id", out.Period.ID)
	for _, p := range out.Resolution.Destroyed {
		log.DebugContext(ctx, "sibling destroyed", "sibling_id", p.ID)
	}
	for _, p := range out.Resolution.Split {
		log.DebugContext(ctx, "sibling split", "sibling_id", p.ID)
	}
	for _, p := range out.Resolution.Truncated {
		log.DebugContext(ctx, "sibling truncated", "sibling_id", p.ID)
	}
	for _, p := range out.Resolution.Adjusted {
		log.DebugContext(ctx, "gap closed", "sibling_id", p.ID)
	}
	s.metrics.ObserveCorrections(ctx, kind, out.Resolution.Corrections())
}

func (s *Service) logRejection(ctx context.Context, op string, kind domain.Kind, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord), errors.Is(err, domain.ErrDestroyRejected):
		s.logger.InfoContext(ctx, op+" rejected", "kind", string(kind), "record_id", id, "error", err)
	default:
		s.logger.WarnContext(ctx, op+" failed", "kind", string(kind), "record_id", id, "error", err)
	}
}

func (s *Service) logRules(ctx context.Context, res domain.Result) {
	for _, v := range res.Violations {
		s.logger.WarnContext(ctx, "rule violation", "rule", v.Rule, "kind", string(v.Kind), "record_id", v.RecordID, "message", v.Message)
	}
}
