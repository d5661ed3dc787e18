package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"

	"periodcore/internal/infra/persistence/memory"
	"periodcore/pkg/domain"
)

const (
	testKind   domain.Kind = "employee_assignment"
	testParent             = "e1"
)

// resolveHarness drives a service over an in-memory store. Records are
// addressed by their "name" attribute, which split tails inherit.
type resolveHarness struct {
	svc   *Service
	store *memory.Store
	tl    domain.Timeline
}

func newResolveHarness(t *testing.T, d *datadriven.TestData) *resolveHarness {
	t.Helper()
	opts := ModelOptions{Timeline: domain.DateTimeline(), Gapless: d.HasArg("gapless")}
	if d.HasArg("granularity") {
		var g string
		d.ScanArgs(t, "granularity", &g)
		gran, err := domain.ParseGranularity(g)
		if err != nil {
			d.Fatalf(t, "%v", err)
		}
		if gran == domain.GranularitySecond {
			opts.Timeline = domain.DateTimeTimeline()
		}
	}
	reg := NewRegistry()
	if _, err := reg.Register(testKind, opts); err != nil {
		d.Fatalf(t, "%v", err)
	}
	store := memory.NewStore(reg.RulesEngine())
	clock := func() time.Time { return time.Date(2014, 5, 10, 9, 30, 0, 0, time.UTC) }
	return &resolveHarness{
		svc:   NewService(store, reg, WithClock(clock)),
		store: store,
		tl:    opts.Timeline,
	}
}

func (h *resolveHarness) define(t *testing.T, d *datadriven.TestData) {
	t.Helper()
	_, err := h.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, line := range strings.Split(strings.TrimSpace(d.Input), "\n") {
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return errors.Newf("define: want <name> <start> <end>, got %q", line)
			}
			start, err := h.tl.Parse(fields[1])
			if err != nil {
				return err
			}
			end, err := h.tl.Parse(fields[2])
			if err != nil {
				return err
			}
			if _, err := tx.CreatePeriod(domain.Period{
				Kind:       testKind,
				ParentID:   testParent,
				StartAt:    domain.At(start),
				EndAt:      domain.At(end),
				Attributes: map[string]any{"name": fields[0]},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.Fatalf(t, "define: %v", err)
	}
}

func (h *resolveHarness) byName(name string) (domain.Period, bool) {
	siblings, _ := h.svc.Siblings(context.Background(), testKind, testParent)
	for _, p := range siblings {
		if p.Attributes["name"] == name {
			return p, true
		}
	}
	return domain.Period{}, false
}

func (h *resolveHarness) save(t *testing.T, d *datadriven.TestData) string {
	var name string
	d.ScanArgs(t, "name", &name)
	p, ok := h.byName(name)
	if !ok {
		p = domain.Period{Kind: testKind, ParentID: testParent, Attributes: map[string]any{"name": name}}
	}
	for _, field := range []string{"start", "end"} {
		if !d.HasArg(field) {
			continue
		}
		var raw string
		d.ScanArgs(t, field, &raw)
		v, err := h.tl.Parse(raw)
		if err != nil {
			d.Fatalf(t, "%v", err)
		}
		if field == "start" {
			p.SetStart(v)
		} else {
			p.SetEnd(v)
		}
	}
	out, err := h.svc.SaveOutcome(context.Background(), p)
	return h.report(out, err)
}

func (h *resolveHarness) destroy(t *testing.T, d *datadriven.TestData) string {
	var name string
	d.ScanArgs(t, "name", &name)
	p, ok := h.byName(name)
	if !ok {
		d.Fatalf(t, "no record named %s", name)
	}
	out, err := h.svc.DestroyOutcome(context.Background(), testKind, p.ID)
	return h.report(out, err)
}

func (h *resolveHarness) report(out Outcome, err error) string {
	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "error: %s\n", describeError(err))
	} else {
		b.WriteString("corrections:")
		corrections := out.Resolution.Corrections()
		if len(corrections) == 0 {
			b.WriteString(" none")
		}
		actions := make([]string, 0, len(corrections))
		for action := range corrections {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			fmt.Fprintf(&b, " %s=%d", action, corrections[action])
		}
		b.WriteString("\n")
	}
	b.WriteString(h.list())
	return b.String()
}

func (h *resolveHarness) list() string {
	siblings, _ := h.svc.Siblings(context.Background(), testKind, testParent)
	var b strings.Builder
	for _, p := range siblings {
		fmt.Fprintf(&b, "%s: [%s, %s]\n", p.Attributes["name"], h.tl.Format(p.Start()), h.tl.Format(p.End()))
	}
	if len(siblings) == 0 {
		b.WriteString("(empty)\n")
	}
	return b.String()
}

func describeError(err error) string {
	var invalid *domain.InvalidRecordError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("invalid record (fields: %s)", strings.Join(invalid.Fields(), ","))
	}
	var rejected *domain.DestroyRejectedError
	if errors.As(err, &rejected) {
		fields := make([]string, 0, len(rejected.Violations))
		for _, v := range rejected.Violations {
			fields = append(fields, v.Field)
		}
		return fmt.Sprintf("destroy rejected (fields: %s)", strings.Join(fields, ","))
	}
	return err.Error()
}

func TestResolveDataDriven(t *testing.T) {
	for _, file := range []string{"testdata/resolve", "testdata/resolve_datetime", "testdata/gapless", "testdata/gapless_datetime"} {
		t.Run(file[len("testdata/"):], func(t *testing.T) {
			var h *resolveHarness
			datadriven.RunTest(t, file, func(t *testing.T, d *datadriven.TestData) string {
				switch d.Cmd {
				case "reset":
					h = newResolveHarness(t, d)
					return "ok"
				case "define":
					h.define(t, d)
					return h.list()
				case "save":
					return h.save(t, d)
				case "destroy":
					return h.destroy(t, d)
				case "list":
					return h.list()
				default:
					return fmt.Sprintf("unknown command: %s", d.Cmd)
				}
			})
		})
	}
}

func TestClassifyOverlapPriority(t *testing.T) {
	tl := domain.DateTimeline()
	day := func(d int) time.Time { return tl.Min.AddDate(2013, 4, d-1) }
	span := func(a, b int) domain.Period {
		return domain.Period{StartAt: domain.At(day(a)), EndAt: domain.At(day(b))}
	}
	r := span(10, 20)
	cases := []struct {
		s    domain.Period
		want overlap
	}{
		{span(10, 20), overlapContained},
		{span(12, 18), overlapContained},
		{span(1, 30), overlapStraddles},
		{span(1, 10), overlapStart},
		{span(1, 20), overlapStart},
		{span(20, 30), overlapEnd},
		{span(10, 30), overlapEnd},
		{span(1, 9), overlapNone},
		{span(21, 30), overlapNone},
	}
	for _, tc := range cases {
		if got := classifyOverlap(tc.s, r); got != tc.want {
			t.Errorf("classifyOverlap(%s..%s) = %s, want %s",
				tl.Format(tc.s.Start()), tl.Format(tc.s.End()), got, tc.want)
		}
	}
}
