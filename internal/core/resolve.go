package core

import (
	"time"

	"github.com/cockroachdb/errors"

	"periodcore/pkg/domain"
)

// overlap classifies how a sibling intersects a saved record.
type overlap int

const (
	overlapNone overlap = iota
	// overlapContained: the sibling lies inside the record.
	overlapContained
	// overlapStraddles: the sibling extends past both edges of the record.
	overlapStraddles
	// overlapStart: the sibling covers the record's start only.
	overlapStart
	// overlapEnd: the sibling covers the record's end only.
	overlapEnd
)

func (o overlap) String() string {
	switch o {
	case overlapContained:
		return "destroy"
	case overlapStraddles:
		return "split"
	case overlapStart:
		return "truncate_end"
	case overlapEnd:
		return "truncate_start"
	default:
		return "none"
	}
}

// classifyOverlap picks the single rule applied to sibling s for saved record
// r. Priority: contained, straddling, start overlap, end overlap.
func classifyOverlap(s, r domain.Period) overlap {
	if !s.Within(r.Start(), r.End()) {
		return overlapNone
	}
	sStart, sEnd := s.Start(), s.End()
	rStart, rEnd := r.Start(), r.End()
	switch {
	case r.Contains(s):
		return overlapContained
	case sStart.Before(rStart) && sEnd.After(rEnd):
		return overlapStraddles
	case sStart.Before(rStart):
		return overlapStart
	case sEnd.After(rEnd):
		return overlapEnd
	}
	return overlapNone
}

// Resolution summarizes the sibling rewrites made after a save or destroy.
type Resolution struct {
	// Destroyed holds siblings removed because the record contained them.
	Destroyed []domain.Period
	// Split holds the tail records created by splitting a straddling sibling.
	Split []domain.Period
	// Truncated holds siblings whose bounds were shortened, including split heads.
	Truncated []domain.Period
	// Adjusted holds neighbours moved by gapless gap closing.
	Adjusted []domain.Period
}

// Empty reports whether no sibling was touched.
func (r Resolution) Empty() bool {
	return len(r.Destroyed) == 0 && len(r.Split) == 0 && len(r.Truncated) == 0 && len(r.Adjusted) == 0
}

// Corrections counts the rewrites per action.
func (r Resolution) Corrections() map[string]int {
	out := make(map[string]int, 4)
	if n := len(r.Destroyed); n > 0 {
		out["destroy"] = n
	}
	if n := len(r.Split); n > 0 {
		out["split"] = n
	}
	if n := len(r.Truncated) - len(r.Split); n > 0 {
		out["truncate"] = n
	}
	if n := len(r.Adjusted); n > 0 {
		out["gap"] = n
	}
	return out
}

func (r *Resolution) merge(other Resolution) {
	r.Destroyed = append(r.Destroyed, other.Destroyed...)
	r.Split = append(r.Split, other.Split...)
	r.Truncated = append(r.Truncated, other.Truncated...)
	r.Adjusted = append(r.Adjusted, other.Adjusted...)
}

// resolveOverlaps rewrites the siblings of saved so that none of them shares a
// point with it. The sibling set is read once; every rule depends only on the
// sibling's own bounds against saved, so visit order does not matter.
// Corrective writes skip validation.
func (m *Model) resolveOverlaps(tx domain.Transaction, saved domain.Period) (Resolution, error) {
	var res Resolution
	for _, sibling := range tx.FindSiblings(m.kind, saved.ParentID, saved.ID) {
		switch classifyOverlap(sibling, saved) {
		case overlapContained:
			if err := tx.DeletePeriod(sibling.ID); err != nil {
				return res, errors.Wrapf(err, "destroy overlapping period %s", sibling.ID)
			}
			res.Destroyed = append(res.Destroyed, sibling)
		case overlapStraddles:
			head, tail, err := m.split(tx, sibling, saved)
			if err != nil {
				return res, errors.Wrapf(err, "split period %s", sibling.ID)
			}
			res.Truncated = append(res.Truncated, head)
			res.Split = append(res.Split, tail)
		case overlapStart:
			updated, err := setEnd(tx, sibling.ID, m.timeline.Prev(saved.Start()))
			if err != nil {
				return res, errors.Wrapf(err, "truncate end of period %s", sibling.ID)
			}
			res.Truncated = append(res.Truncated, updated)
		case overlapEnd:
			updated, err := setStart(tx, sibling.ID, m.timeline.Next(saved.End()))
			if err != nil {
				return res, errors.Wrapf(err, "truncate start of period %s", sibling.ID)
			}
			res.Truncated = append(res.Truncated, updated)
		}
	}
	return res, nil
}

// split keeps the sibling's head before saved and creates a copy of it
// covering the remainder after saved.
func (m *Model) split(tx domain.Transaction, sibling, saved domain.Period) (domain.Period, domain.Period, error) {
	tail := sibling.Duplicate()
	tail.SetStart(m.timeline.Next(saved.End()))
	tail.SetEnd(sibling.End())

	head, err := setEnd(tx, sibling.ID, m.timeline.Prev(saved.Start()))
	if err != nil {
		return domain.Period{}, domain.Period{}, err
	}
	created, err := tx.CreatePeriod(tail)
	if err != nil {
		return domain.Period{}, domain.Period{}, err
	}
	return head, created, nil
}

func setStart(tx domain.Transaction, id string, t time.Time) (domain.Period, error) {
	return tx.UpdatePeriod(id, func(p *domain.Period) error {
		p.SetStart(t)
		return nil
	})
}

func setEnd(tx domain.Transaction, id string, t time.Time) (domain.Period, error) {
	return tx.UpdatePeriod(id, func(p *domain.Period) error {
		p.SetEnd(t)
		return nil
	})
}
