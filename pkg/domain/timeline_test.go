package domain

import (
	"testing"
	"time"
)

func TestTimelineStepsByGranularity(t *testing.T) {
	day := DateTimeline()
	d := time.Date(2014, time.May, 1, 0, 0, 0, 0, time.UTC)
	if got := day.Prev(d); !got.Equal(time.Date(2014, time.April, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day prev: got %v", got)
	}
	if got := day.Next(time.Date(2014, time.February, 28, 0, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2014, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day next across month: got %v", got)
	}

	sec := DateTimeTimeline()
	ts := time.Date(2014, time.May, 1, 9, 20, 0, 0, time.UTC)
	if got := sec.Prev(ts); !got.Equal(time.Date(2014, time.May, 1, 9, 19, 59, 0, time.UTC)) {
		t.Fatalf("second prev: got %v", got)
	}
	if got := sec.Next(ts); !got.Equal(time.Date(2014, time.May, 1, 9, 20, 1, 0, time.UTC)) {
		t.Fatalf("second next: got %v", got)
	}
}

func TestTimelineTruncate(t *testing.T) {
	loc := time.FixedZone("plus5", 5*3600)
	in := time.Date(2018, time.January, 16, 2, 30, 15, 999, loc)
	if got := DateTimeline().Truncate(in); !got.Equal(time.Date(2018, time.January, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day truncate kept local calendar date: got %v", got)
	}
	if got := DateTimeTimeline().Truncate(in); !got.Equal(time.Date(2018, time.January, 15, 21, 30, 15, 0, time.UTC)) {
		t.Fatalf("second truncate: got %v", got)
	}
}

func TestTimelineParseAndFormat(t *testing.T) {
	tl := DateTimeline()
	for _, tc := range []struct {
		in   string
		want time.Time
	}{
		{"min", DefaultMin},
		{"MAX", DefaultMax},
		{"2014-05-01", time.Date(2014, time.May, 1, 0, 0, 0, 0, time.UTC)},
		{"2014-05-01 13:45:00", time.Date(2014, time.May, 1, 0, 0, 0, 0, time.UTC)},
	} {
		got, err := tl.Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parse %q: got %v want %v", tc.in, got, tc.want)
		}
	}
	if _, err := tl.Parse("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
	if got := tl.Format(time.Date(2014, time.May, 1, 0, 0, 0, 0, time.UTC)); got != "2014-05-01" {
		t.Fatalf("format: %q", got)
	}
	sec := DateTimeTimeline()
	got, err := sec.Parse("2014-05-06 13:45:00")
	if err != nil {
		t.Fatalf("parse datetime: %v", err)
	}
	if sec.Format(got) != "2014-05-06 13:45:00" {
		t.Fatalf("format datetime: %q", sec.Format(got))
	}
}

func TestParseGranularity(t *testing.T) {
	if g, err := ParseGranularity("datetime"); err != nil || g != GranularitySecond {
		t.Fatalf("datetime: %v %v", g, err)
	}
	if g, err := ParseGranularity(""); err != nil || g != GranularityDay {
		t.Fatalf("empty: %v %v", g, err)
	}
	if _, err := ParseGranularity("week"); err == nil {
		t.Fatalf("expected error for week")
	}
}

func TestPeriodPredicates(t *testing.T) {
	p := testPeriod("a", "p1", "2014-05-01", "2014-05-06")
	if !p.Covers(time.Date(2014, time.May, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected inclusive end coverage")
	}
	if p.Covers(time.Date(2014, time.May, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("did not expect coverage after end")
	}
	if !p.Within(time.Date(2014, time.April, 1, 0, 0, 0, 0, time.UTC), time.Date(2014, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected touching interval to overlap")
	}
	inner := testPeriod("b", "p1", "2014-05-02", "2014-05-06")
	if !p.Contains(inner) || inner.Contains(p) {
		t.Fatalf("unexpected containment result")
	}
	var unset Period
	if unset.Within(DefaultMin, DefaultMax) || unset.HasBounds() {
		t.Fatalf("unset period must not overlap")
	}
	if !DateTimeline().Adjacent(testPeriod("x", "p", "2014-01-01", "2014-04-30"), p) {
		t.Fatalf("expected adjacency")
	}
}

func TestPeriodCloneAndDuplicate(t *testing.T) {
	p := testPeriod("a", "p1", "2014-05-01", "2014-05-06")
	p.Attributes = map[string]any{"status": "active"}
	p.CreatedAt = time.Now()

	cp := p.Clone()
	cp.Attributes["status"] = "inactive"
	cp.SetEnd(DefaultMax)
	if p.Attributes["status"] != "active" || p.End().Equal(DefaultMax) {
		t.Fatalf("clone shares state with original")
	}

	dup := p.Duplicate()
	if dup.ID != "" || !dup.CreatedAt.IsZero() {
		t.Fatalf("duplicate kept identity: %+v", dup)
	}
	if dup.ParentID != p.ParentID || dup.Attributes["status"] != "active" {
		t.Fatalf("duplicate lost domain fields: %+v", dup)
	}
}
