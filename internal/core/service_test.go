package core_test

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"periodcore/internal/core"
	"periodcore/internal/infra/persistence/memory"
	"periodcore/pkg/domain"
)

const (
	assignment domain.Kind = "employee_assignment"
	shift      domain.Kind = "shift"
)

var fixedNow = time.Date(2014, 5, 10, 9, 30, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newService(t *testing.T, gapless bool, opts ...core.ServiceOption) (*core.Service, *memory.Store) {
	t.Helper()
	reg := core.NewRegistry()
	_, err := reg.Register(assignment, core.ModelOptions{Gapless: gapless})
	require.NoError(t, err)
	_, err = reg.Register(shift, core.ModelOptions{Timeline: domain.DateTimeTimeline()})
	require.NoError(t, err)
	store := memory.NewStore(reg.RulesEngine())
	opts = append([]core.ServiceOption{core.WithClock(func() time.Time { return fixedNow })}, opts...)
	return core.NewService(store, reg, opts...), store
}

func span(parent, start, end string) domain.Period {
	return domain.Period{
		Kind:     assignment,
		ParentID: parent,
		StartAt:  domain.At(day(start)),
		EndAt:    domain.At(day(end)),
	}
}

func save(t *testing.T, svc *core.Service, p domain.Period) domain.Period {
	t.Helper()
	saved, _, err := svc.Save(context.Background(), p)
	require.NoError(t, err)
	return saved
}

func bounds(t *testing.T, svc *core.Service, parent string) [][2]string {
	t.Helper()
	siblings, err := svc.Siblings(context.Background(), assignment, parent)
	require.NoError(t, err)
	out := make([][2]string, 0, len(siblings))
	for _, p := range siblings {
		out = append(out, [2]string{p.Start().Format(time.DateOnly), p.End().Format(time.DateOnly)})
	}
	return out
}

func TestSaveAppliesDefaults(t *testing.T) {
	svc, _ := newService(t, false)
	saved := save(t, svc, domain.Period{Kind: assignment, ParentID: "e1"})
	require.NotEmpty(t, saved.ID)
	require.Equal(t, day("2014-05-10"), saved.Start())
	require.Equal(t, domain.DefaultMax, saved.End())
}

func TestSaveKeepsGivenBoundsAndTruncatesToDay(t *testing.T) {
	svc, _ := newService(t, false)
	p := domain.Period{
		Kind:     assignment,
		ParentID: "e1",
		StartAt:  domain.At(time.Date(2014, 5, 1, 17, 45, 0, 0, time.UTC)),
	}
	saved := save(t, svc, p)
	require.Equal(t, day("2014-05-01"), saved.Start())
	require.Equal(t, domain.DefaultMax, saved.End())
}

func TestSaveRejectsEndBeforeStart(t *testing.T) {
	svc, store := newService(t, false)
	_, _, err := svc.Save(context.Background(), span("e1", "2014-05-06", "2014-05-01"))
	require.ErrorIs(t, err, domain.ErrInvalidRecord)

	var invalid *domain.InvalidRecordError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, []string{core.FieldEndAt}, invalid.Fields())
	require.Equal(t, "is invalid", invalid.Violations[0].Message)
	require.Empty(t, store.ListPeriods(""))
}

func TestSaveWithUnknownIDCreatesRecord(t *testing.T) {
	svc, _ := newService(t, false)
	p := span("e1", "2014-05-01", "2014-05-31")
	p.ID = "assignment-1"
	saved := save(t, svc, p)
	require.Equal(t, "assignment-1", saved.ID)

	got, err := svc.Get(context.Background(), "assignment-1")
	require.NoError(t, err)
	require.Equal(t, day("2014-05-31"), got.End())
}

func TestSaveRejectsKindMismatch(t *testing.T) {
	svc, _ := newService(t, false)
	saved := save(t, svc, span("e1", "2014-05-01", "2014-05-31"))
	saved.Kind = shift
	_, _, err := svc.Save(context.Background(), saved)
	require.Error(t, err)
}

func TestUnknownKind(t *testing.T) {
	svc, _ := newService(t, false)
	_, _, err := svc.Save(context.Background(), domain.Period{Kind: "contract", ParentID: "e1"})
	require.ErrorIs(t, err, core.ErrUnknownKind)
	_, err = svc.Siblings(context.Background(), "contract", "e1")
	require.ErrorIs(t, err, core.ErrUnknownKind)
	_, err = svc.Destroy(context.Background(), "contract", "x")
	require.ErrorIs(t, err, core.ErrUnknownKind)
}

func TestSiblingsAreScopedToParent(t *testing.T) {
	svc, _ := newService(t, false)
	save(t, svc, span("e1", "0001-01-01", "9999-01-01"))
	save(t, svc, span("e2", "2014-05-01", "2014-05-06"))
	require.Equal(t, [][2]string{{"0001-01-01", "9999-01-01"}}, bounds(t, svc, "e1"))
	require.Equal(t, [][2]string{{"2014-05-01", "2014-05-06"}}, bounds(t, svc, "e2"))
}

func TestSplitCopiesAttributes(t *testing.T) {
	svc, _ := newService(t, false)
	outer := span("e1", "0001-01-01", "9999-01-01")
	outer.Attributes = map[string]any{"project": "north"}
	save(t, svc, outer)

	out, err := svc.SaveOutcome(context.Background(), span("e1", "2014-05-01", "2014-05-06"))
	require.NoError(t, err)
	require.Len(t, out.Resolution.Split, 1)
	require.Equal(t, "north", out.Resolution.Split[0].Attributes["project"])
	require.Equal(t, map[string]int{"split": 1}, out.Resolution.Corrections())
	require.Equal(t, [][2]string{
		{"0001-01-01", "2014-04-30"},
		{"2014-05-01", "2014-05-06"},
		{"2014-05-07", "9999-01-01"},
	}, bounds(t, svc, "e1"))
}

// poisonRule blocks any commit that touches a period flagged "poison".
type poisonRule struct{}

func (poisonRule) Name() string { return "poison" }

func (poisonRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.After != nil && c.After.Attributes["poison"] == true {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "poison",
				Severity: domain.SeverityBlock,
				Message:  "poisoned",
				Kind:     c.Kind,
				RecordID: c.After.ID,
			})
		}
	}
	return res, nil
}

func TestBlockedCommitRollsBackCorrections(t *testing.T) {
	reg := core.NewRegistry()
	_, err := reg.Register(assignment, core.ModelOptions{})
	require.NoError(t, err)
	engine := reg.RulesEngine()
	engine.Register(poisonRule{})
	svc := core.NewService(memory.NewStore(engine), reg)

	save(t, svc, span("e1", "0001-01-01", "9999-01-01"))
	before := bounds(t, svc, "e1")

	p := span("e1", "2014-05-01", "2014-05-06")
	p.Attributes = map[string]any{"poison": true}
	_, _, err = svc.Save(context.Background(), p)
	var blocked domain.RuleViolationError
	require.True(t, errors.As(err, &blocked))
	require.Equal(t, before, bounds(t, svc, "e1"))
}

func TestDestroy(t *testing.T) {
	svc, _ := newService(t, false)
	p := save(t, svc, span("e1", "2014-05-01", "2014-05-06"))
	_, err := svc.Destroy(context.Background(), assignment, p.ID)
	require.NoError(t, err)
	_, err = svc.Destroy(context.Background(), assignment, p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(context.Background(), p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDestroyChecksKind(t *testing.T) {
	svc, _ := newService(t, false)
	p := save(t, svc, span("e1", "2014-05-01", "2014-05-06"))
	_, err := svc.Destroy(context.Background(), shift, p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func seedGapless(t *testing.T, svc *core.Service) []domain.Period {
	t.Helper()
	first := save(t, svc, span("e1", "0001-01-01", "9999-01-01"))
	second := save(t, svc, span("e1", "2018-01-16", "9999-01-01"))
	third := save(t, svc, span("e1", "2018-02-16", "9999-01-01"))
	first, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	second, err = svc.Get(context.Background(), second.ID)
	require.NoError(t, err)
	return []domain.Period{first, second, third}
}

func TestGaplessSeedTiles(t *testing.T) {
	svc, _ := newService(t, true)
	seedGapless(t, svc)
	require.Equal(t, [][2]string{
		{"0001-01-01", "2018-01-15"},
		{"2018-01-16", "2018-02-15"},
		{"2018-02-16", "9999-01-01"},
	}, bounds(t, svc, "e1"))
}

func TestGaplessTryDestroy(t *testing.T) {
	svc, _ := newService(t, true)
	recs := seedGapless(t, svc)
	ctx := context.Background()

	ok, err := svc.TryDestroy(ctx, assignment, recs[0].ID)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.TryDestroy(ctx, assignment, recs[2].ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, bounds(t, svc, "e1"), 3)

	_, err = svc.Destroy(ctx, assignment, recs[0].ID)
	require.ErrorIs(t, err, domain.ErrDestroyRejected)

	ok, err = svc.TryDestroy(ctx, assignment, recs[1].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][2]string{
		{"0001-01-01", "2018-02-15"},
		{"2018-02-16", "9999-01-01"},
	}, bounds(t, svc, "e1"))
}

func TestGaplessRejectsMovingEdges(t *testing.T) {
	svc, _ := newService(t, true)
	recs := seedGapless(t, svc)

	first := recs[0]
	first.SetStart(day("2018-01-01"))
	_, _, err := svc.Save(context.Background(), first)
	var invalid *domain.InvalidRecordError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, []string{core.FieldStartAt}, invalid.Fields())

	last := recs[2]
	last.SetEnd(day("2018-12-31"))
	_, _, err = svc.Save(context.Background(), last)
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, []string{core.FieldEndAt}, invalid.Fields())
}

func TestGaplessMoveToOtherParentClosesGap(t *testing.T) {
	svc, _ := newService(t, true)
	recs := seedGapless(t, svc)
	ctx := context.Background()

	moved := recs[1]
	moved.ParentID = "e2"
	_, _, err := svc.Save(ctx, moved)
	require.NoError(t, err)
	require.Equal(t, [][2]string{
		{"0001-01-01", "2018-02-15"},
		{"2018-02-16", "9999-01-01"},
	}, bounds(t, svc, "e1"))
	require.Equal(t, [][2]string{{"2018-01-16", "2018-02-15"}}, bounds(t, svc, "e2"))

	first, err := svc.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	first.ParentID = "e3"
	_, _, err = svc.Save(ctx, first)
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"0001-01-01", "9999-01-01"}}, bounds(t, svc, "e1"))
}

// Random creates and edits of valid intervals keep every parent
// non-overlapping and, for gapless kinds, still tiling Min..Max.
func TestRandomSavesKeepIntervalsConsistent(t *testing.T) {
	tl := domain.DateTimeline()
	for _, gapless := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "gapless"}[gapless], func(t *testing.T) {
			svc, _ := newService(t, gapless)
			ctx := context.Background()
			rng := rand.New(rand.NewPCG(7, 11))
			base := day("2020-01-01")
			if gapless {
				save(t, svc, span("e1", "0001-01-01", "9999-01-01"))
			}
			for i := 0; i < 400; i++ {
				a := base.AddDate(0, 0, rng.IntN(120))
				b := a.AddDate(0, 0, rng.IntN(30))
				p := domain.Period{Kind: assignment, ParentID: "e1", StartAt: domain.At(a), EndAt: domain.At(b)}

				existing, err := svc.Siblings(ctx, assignment, "e1")
				require.NoError(t, err)
				if len(existing) > 0 && rng.IntN(2) == 0 {
					p = existing[rng.IntN(len(existing))]
					anchoredStart := gapless && tl.IsMin(p.Start())
					anchoredEnd := gapless && tl.IsMax(p.End())
					switch {
					case anchoredStart && anchoredEnd:
					case anchoredStart:
						p.SetEnd(b)
					case anchoredEnd:
						p.SetStart(a)
					default:
						p.SetStart(a)
						p.SetEnd(b)
					}
				}
				_, res, err := svc.Save(ctx, p)
				require.NoError(t, err, "save %d", i)
				require.Empty(t, res.Violations)

				siblings, err := svc.Siblings(ctx, assignment, "e1")
				require.NoError(t, err)
				for j := 1; j < len(siblings); j++ {
					prev, cur := siblings[j-1], siblings[j]
					require.True(t, prev.End().Before(cur.Start()), "overlap after save %d", i)
					if gapless {
						require.True(t, tl.Adjacent(prev, cur), "gap after save %d", i)
					}
				}
				if gapless {
					require.True(t, tl.IsMin(siblings[0].Start()))
					require.True(t, tl.IsMax(siblings[len(siblings)-1].End()))
				}
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	save(t, svc, span("e1", "2014-01-01", "2014-05-09"))
	now := save(t, svc, span("e1", "2014-05-10", "9999-01-01"))

	got, ok, err := svc.Current(ctx, assignment, "e1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now.ID, got.ID)

	got, ok, err = svc.Current(ctx, assignment, "e1", time.Date(2014, 3, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, day("2014-01-01"), got.Start())

	_, ok, err = svc.Current(ctx, assignment, "e1", day("2013-12-31"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSecondGranularity(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	outer, _, err := svc.Save(ctx, domain.Period{Kind: shift, ParentID: "e1"})
	require.NoError(t, err)
	require.Equal(t, fixedNow, outer.Start())

	inner := domain.Period{
		Kind:     shift,
		ParentID: "e1",
		StartAt:  domain.At(fixedNow.Add(time.Hour)),
		EndAt:    domain.At(fixedNow.Add(2 * time.Hour)),
	}
	_, _, err = svc.Save(ctx, inner)
	require.NoError(t, err)

	siblings, err := svc.Siblings(ctx, shift, "e1")
	require.NoError(t, err)
	require.Len(t, siblings, 3)
	require.Equal(t, fixedNow.Add(time.Hour-time.Second), siblings[0].End())
	require.Equal(t, fixedNow.Add(2*time.Hour+time.Second), siblings[2].Start())
}

func TestServiceLogsAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger, err := core.NewLogger(&buf, "debug")
	require.NoError(t, err)
	metrics := core.NewExpvarMetricsRecorder("")
	svc, _ := newService(t, false, core.WithLogger(logger), core.WithMetrics(metrics))
	ctx := context.Background()

	save(t, svc, span("e1", "0001-01-01", "9999-01-01"))
	save(t, svc, span("e1", "2014-05-01", "2014-05-06"))
	_, _, err = svc.Save(ctx, span("e1", "2014-05-06", "2014-05-01"))
	require.Error(t, err)

	require.Contains(t, buf.String(), "sibling split")
	require.Contains(t, buf.String(), "save rejected")

	snap := metrics.Snapshot()
	require.Equal(t, int64(2), snap.Results["save"]["success"])
	require.Equal(t, int64(1), snap.Results["save"]["error"])
	require.Equal(t, int64(1), snap.Corrections[string(assignment)]["split"])
}
