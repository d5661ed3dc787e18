package domain

import (
	"context"
	"fmt"
	"sort"
)

// RuleView provides read-only access to periods for rule evaluation.
type RuleView interface {
	// ListPeriods returns the periods of kind; an empty kind lists every period.
	ListPeriods(kind Kind) []Period
	ListSiblings(kind Kind, parentID string) []Period
	FindPeriod(id string) (Period, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine returns an engine with the non-overlap rule registered.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NonOverlapRule())
	return engine
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

type siblingGroup struct {
	kind     Kind
	parentID string
}

// touchedGroups returns the distinct sibling groups affected by changes, in
// first-seen order.
func touchedGroups(changes []Change) []siblingGroup {
	seen := make(map[siblingGroup]struct{})
	var out []siblingGroup
	for _, c := range changes {
		g := siblingGroup{kind: c.Kind, parentID: c.ParentID()}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// SortByStart orders periods by start bound, then by ID. Unset starts sort first.
func SortByStart(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		a, b := periods[i].Start(), periods[j].Start()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return periods[i].ID < periods[j].ID
	})
}

type nonOverlapRule struct{}

// NonOverlapRule blocks commits that leave two siblings covering the same point.
func NonOverlapRule() Rule { return nonOverlapRule{} }

func (nonOverlapRule) Name() string { return "non_overlap" }

func (r nonOverlapRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	var res Result
	for _, g := range touchedGroups(changes) {
		siblings := view.ListSiblings(g.kind, g.parentID)
		SortByStart(siblings)
		for i := 1; i < len(siblings); i++ {
			prev, cur := siblings[i-1], siblings[i]
			if !prev.HasBounds() || !cur.HasBounds() {
				continue
			}
			if !prev.EndAt.Before(*cur.StartAt) {
				res.Violations = append(res.Violations, Violation{
					Rule:     r.Name(),
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("period %s overlaps %s for parent %s", prev.ID, cur.ID, g.parentID),
					Kind:     g.kind,
					RecordID: cur.ID,
				})
			}
		}
	}
	return res, nil
}

type gaplessCoverageRule struct {
	timelines map[Kind]Timeline
}

// GaplessCoverageRule warns when a gapless kind's siblings stop tiling
// Min..Max. Kinds absent from timelines are ignored.
func GaplessCoverageRule(timelines map[Kind]Timeline) Rule {
	return gaplessCoverageRule{timelines: timelines}
}

func (gaplessCoverageRule) Name() string { return "gapless_coverage" }

func (r gaplessCoverageRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	var res Result
	for _, g := range touchedGroups(changes) {
		tl, ok := r.timelines[g.kind]
		if !ok {
			continue
		}
		siblings := view.ListSiblings(g.kind, g.parentID)
		if len(siblings) == 0 {
			continue
		}
		SortByStart(siblings)
		warn := func(msg string, id string) {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityWarn,
				Message:  msg,
				Kind:     g.kind,
				RecordID: id,
			})
		}
		first, last := siblings[0], siblings[len(siblings)-1]
		if !tl.IsMin(first.Start()) {
			warn(fmt.Sprintf("parent %s coverage starts at %s", g.parentID, tl.Format(first.Start())), first.ID)
		}
		if !tl.IsMax(last.End()) {
			warn(fmt.Sprintf("parent %s coverage ends at %s", g.parentID, tl.Format(last.End())), last.ID)
		}
		for i := 1; i < len(siblings); i++ {
			if !tl.Adjacent(siblings[i-1], siblings[i]) {
				warn(fmt.Sprintf("gap between %s and %s", siblings[i-1].ID, siblings[i].ID), siblings[i].ID)
			}
		}
	}
	return res, nil
}
