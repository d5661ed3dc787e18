package core

import (
	"time"

	"github.com/cockroachdb/errors"

	"periodcore/pkg/domain"
)

// validateGapless rejects edits that would detach the first record from Min
// or the last record from Max. New records are never rejected here.
func (m *Model) validateGapless(before *domain.Period, p domain.Period) domain.Result {
	var res domain.Result
	if before == nil {
		return res
	}
	add := func(rule, field string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     rule,
			Severity: domain.SeverityBlock,
			Message:  msgInvalid,
			Kind:     m.kind,
			RecordID: p.ID,
			Field:    field,
		})
	}
	if boundChanged(before.StartAt, p.StartAt) && before.StartAt != nil && m.timeline.IsMin(*before.StartAt) {
		add("gapless_start", FieldStartAt)
	}
	if boundChanged(before.EndAt, p.EndAt) && before.EndAt != nil && m.timeline.IsMax(*before.EndAt) {
		add("gapless_end", FieldEndAt)
	}
	return res
}

// adjustGaps pulls the neighbours of saved along when one of its boundaries
// moved inwards. Neighbours are matched by adjacency to the old boundary. A
// stretched neighbour then has its own overlaps resolved, so siblings the
// save split or shifted into the freed span give way to it. A record moved
// to another parent hands its old span to its former neighbours.
func (m *Model) adjustGaps(tx domain.Transaction, before *domain.Period, saved domain.Period) (Resolution, error) {
	var res Resolution
	if before == nil || !before.HasBounds() || !saved.HasBounds() {
		return res, nil
	}
	if before.ParentID != saved.ParentID {
		return m.vacate(tx, *before)
	}
	oldStart, oldEnd := before.Start(), before.End()

	if saved.Start().After(oldStart) {
		prev, ok := tx.FindByEnd(m.kind, saved.ParentID, saved.ID, m.timeline.Prev(oldStart))
		if ok {
			updated, err := setEnd(tx, prev.ID, m.timeline.Prev(saved.Start()))
			if err != nil {
				return res, errors.Wrapf(err, "close gap before period %s", saved.ID)
			}
			if err := m.stretch(tx, &res, updated); err != nil {
				return res, err
			}
		}
	}
	if saved.End().Before(oldEnd) {
		next, ok := tx.FindByStart(m.kind, saved.ParentID, saved.ID, m.timeline.Next(oldEnd))
		if ok {
			updated, err := setStart(tx, next.ID, m.timeline.Next(saved.End()))
			if err != nil {
				return res, errors.Wrapf(err, "close gap after period %s", saved.ID)
			}
			if err := m.stretch(tx, &res, updated); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// stretch records a neighbour moved over a gap and clears its overlaps.
func (m *Model) stretch(tx domain.Transaction, res *Resolution, neighbour domain.Period) error {
	res.Adjusted = append(res.Adjusted, neighbour)
	cleared, err := m.resolveOverlaps(tx, neighbour)
	if err != nil {
		return errors.Wrapf(err, "resolve overlaps of period %s", neighbour.ID)
	}
	res.merge(cleared)
	return nil
}

// checkDestroy refuses to remove a record anchored to either sentinel.
func (m *Model) checkDestroy(p domain.Period) error {
	var violations []domain.Violation
	add := func(rule, field string) {
		violations = append(violations, domain.Violation{
			Rule:     rule,
			Severity: domain.SeverityBlock,
			Message:  msgInvalid,
			Kind:     m.kind,
			RecordID: p.ID,
			Field:    field,
		})
	}
	if p.StartAt != nil && m.timeline.IsMin(*p.StartAt) {
		add("gapless_start", FieldStartAt)
	}
	if p.EndAt != nil && m.timeline.IsMax(*p.EndAt) {
		add("gapless_end", FieldEndAt)
	}
	if len(violations) == 0 {
		return nil
	}
	return &domain.DestroyRejectedError{Kind: m.kind, ID: p.ID, Violations: violations}
}

// closeGap extends the record preceding destroyed over the freed span.
func (m *Model) closeGap(tx domain.Transaction, destroyed domain.Period) (Resolution, error) {
	var res Resolution
	if !destroyed.HasBounds() {
		return res, nil
	}
	prev, ok := tx.FindByEnd(m.kind, destroyed.ParentID, destroyed.ID, m.timeline.Prev(destroyed.Start()))
	if !ok {
		return res, nil
	}
	updated, err := setEnd(tx, prev.ID, destroyed.End())
	if err != nil {
		return res, errors.Wrapf(err, "close gap left by period %s", destroyed.ID)
	}
	res.Adjusted = append(res.Adjusted, updated)
	return res, nil
}

// vacate closes the span left under the old parent of a moved record. The
// preceding sibling takes it when there is one, the following one otherwise.
func (m *Model) vacate(tx domain.Transaction, left domain.Period) (Resolution, error) {
	res, err := m.closeGap(tx, left)
	if err != nil || !res.Empty() {
		return res, err
	}
	next, ok := tx.FindByStart(m.kind, left.ParentID, left.ID, m.timeline.Next(left.End()))
	if !ok {
		return res, nil
	}
	updated, err := setStart(tx, next.ID, left.Start())
	if err != nil {
		return res, errors.Wrapf(err, "close gap left by period %s", left.ID)
	}
	res.Adjusted = append(res.Adjusted, updated)
	return res, nil
}

func boundChanged(before, after *time.Time) bool {
	if before == nil || after == nil {
		return before != after
	}
	return !before.Equal(*after)
}
