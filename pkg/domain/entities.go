// Package domain defines the periodic record entity, timeline primitives,
// and rule evaluation primitives used by periodcore.
package domain

import (
	"time"
)

// Kind identifies a periodic entity type (for example "employee_assignment").
// Siblings are grouped by Kind and ParentID.
type Kind string

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Period is a time interval record attached to a parent entity. Bounds are
// inclusive on both ends; a nil bound is unset.
type Period struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	ParentID   string         `json:"parent_id"`
	StartAt    *time.Time     `json:"start_at"`
	EndAt      *time.Time     `json:"end_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// At returns a pointer to t, for populating period bounds.
func At(t time.Time) *time.Time {
	return &t
}

// Start returns the start bound or the zero time when unset.
func (p Period) Start() time.Time {
	if p.StartAt == nil {
		return time.Time{}
	}
	return *p.StartAt
}

// End returns the end bound or the zero time when unset.
func (p Period) End() time.Time {
	if p.EndAt == nil {
		return time.Time{}
	}
	return *p.EndAt
}

// HasBounds reports whether both bounds are set.
func (p Period) HasBounds() bool {
	return p.StartAt != nil && p.EndAt != nil
}

// SetStart replaces the start bound.
func (p *Period) SetStart(t time.Time) { p.StartAt = At(t) }

// SetEnd replaces the end bound.
func (p *Period) SetEnd(t time.Time) { p.EndAt = At(t) }

// Within reports whether the period shares at least one point with
// [start, end]. Periods with unset bounds are never within an interval.
func (p Period) Within(start, end time.Time) bool {
	if !p.HasBounds() {
		return false
	}
	return !p.StartAt.After(end) && !p.EndAt.Before(start)
}

// Covers reports whether t falls inside the period.
func (p Period) Covers(t time.Time) bool {
	return p.Within(t, t)
}

// Contains reports whether other lies entirely inside p.
func (p Period) Contains(other Period) bool {
	if !p.HasBounds() || !other.HasBounds() {
		return false
	}
	return !other.StartAt.Before(*p.StartAt) && !other.EndAt.After(*p.EndAt)
}

// Clone returns a deep copy of the period.
func (p Period) Clone() Period {
	cp := p
	if p.StartAt != nil {
		cp.StartAt = At(*p.StartAt)
	}
	if p.EndAt != nil {
		cp.EndAt = At(*p.EndAt)
	}
	if p.Attributes != nil {
		cp.Attributes = make(map[string]any, len(p.Attributes))
		for k, v := range p.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// Duplicate copies the period's domain fields into a new record without
// identity or timestamps.
func (p Period) Duplicate() Period {
	cp := p.Clone()
	cp.ID = ""
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}
	return cp
}

// Change describes a mutation applied to a period during a transaction.
type Change struct {
	Kind   Kind
	Action Action
	Before *Period
	After  *Period
}

// ParentID returns the parent of the changed record.
func (c Change) ParentID() string {
	if c.After != nil {
		return c.After.ParentID
	}
	if c.Before != nil {
		return c.Before.ParentID
	}
	return ""
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates a period was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a period was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule or validation check. Field is set for
// record-level validation failures.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Kind     Kind
	RecordID string
	Field    string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
