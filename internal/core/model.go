package core

import (
	"time"

	"periodcore/pkg/domain"
)

// Validation field names and messages.
const (
	FieldStartAt = "start_at"
	FieldEndAt   = "end_at"

	msgBlank   = "can't be blank"
	msgInvalid = "is invalid"
)

// ModelOptions configures a period kind.
type ModelOptions struct {
	// Timeline defaults to DateTimeline when its granularity is unset.
	Timeline domain.Timeline
	// Gapless keeps siblings tiling Min..Max with no holes.
	Gapless bool
	// Clock supplies "now" for defaults and current lookups. Defaults to time.Now.
	Clock func() time.Time
}

// Model owns the per-record invariants of one period kind: presence and order
// of bounds, default bounds for new records, and overlap resolution.
type Model struct {
	kind     domain.Kind
	timeline domain.Timeline
	gapless  bool
	now      func() time.Time
}

// NewModel constructs a model for kind.
func NewModel(kind domain.Kind, opts ModelOptions) *Model {
	tl := opts.Timeline
	if tl.Granularity == "" {
		tl = domain.DateTimeline()
	}
	if tl.Min.IsZero() && tl.Max.IsZero() {
		tl.Min, tl.Max = domain.DefaultMin, domain.DefaultMax
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Model{kind: kind, timeline: tl, gapless: opts.Gapless, now: now}
}

func (m *Model) Kind() domain.Kind         { return m.kind }
func (m *Model) Timeline() domain.Timeline { return m.timeline }
func (m *Model) Gapless() bool             { return m.gapless }

// Today returns the current instant truncated to the model's granularity.
func (m *Model) Today() time.Time {
	return m.timeline.Truncate(m.now())
}

// New builds an unsaved record for parentID with default bounds applied.
func (m *Model) New(parentID string, attrs map[string]any) domain.Period {
	p := domain.Period{Kind: m.kind, ParentID: parentID}
	if attrs != nil {
		p.Attributes = make(map[string]any, len(attrs))
		for k, v := range attrs {
			p.Attributes[k] = v
		}
	}
	m.ApplyDefaults(&p)
	return p
}

// ApplyDefaults fills unset bounds: the start becomes today and the end
// becomes the Max sentinel. Set bounds are normalized to the granularity.
func (m *Model) ApplyDefaults(p *domain.Period) {
	if p.StartAt == nil {
		p.SetStart(m.Today())
	}
	if p.EndAt == nil {
		p.SetEnd(m.timeline.Max)
	}
	m.normalize(p)
}

func (m *Model) normalize(p *domain.Period) {
	if p.StartAt != nil {
		p.SetStart(m.timeline.Truncate(*p.StartAt))
	}
	if p.EndAt != nil {
		p.SetEnd(m.timeline.Truncate(*p.EndAt))
	}
}

// Validate checks p before it is saved. before is the persisted version of
// the record, or nil for new records.
func (m *Model) Validate(before *domain.Period, p domain.Period) domain.Result {
	var res domain.Result
	add := func(rule, field, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     rule,
			Severity: domain.SeverityBlock,
			Message:  msg,
			Kind:     m.kind,
			RecordID: p.ID,
			Field:    field,
		})
	}
	if p.StartAt == nil {
		add("presence", FieldStartAt, msgBlank)
	}
	if p.EndAt == nil {
		add("presence", FieldEndAt, msgBlank)
	}
	if p.HasBounds() && p.EndAt.Before(*p.StartAt) {
		add("order", FieldEndAt, msgInvalid)
	}
	if m.gapless {
		res.Merge(m.validateGapless(before, p))
	}
	return res
}

// IsCurrent reports whether p covers today.
func (m *Model) IsCurrent(p domain.Period) bool {
	return m.timeline.Contains(p, m.now())
}

// WithClock returns a copy of the model reading "now" from clock.
func (m *Model) WithClock(clock func() time.Time) *Model {
	cp := *m
	cp.now = clock
	return &cp
}
