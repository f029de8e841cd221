package kline

import (
	"testing"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/timeline"
)

func rbTick(hour, min int) *domain.Tick {
	return &domain.Tick{
		Symbol:   "RB1810",
		Exchange: domain.ExchangeSHFE,
		Datetime: time.Date(2024, 5, 15, hour, min, 0, 0, time.Local),
	}
}

// unbias converts a biased minutes-of-day back to a "HH:MM" clock string
// for readable expectations.
func unbias(m int) string {
	h := (m/60 + 24 - timeline.HourBias) % 24
	return time.Date(0, 1, 1, h, m%60, 0, 0, time.UTC).Format("15:04")
}

func TestBarTimeline60MinNightProduct(t *testing.T) {
	cache := newTimelineCache(timeline.NewRegistry())

	tl, err := cache.barTimeline(rbTick(21, 0), domain.Period60Min)
	if err != nil {
		t.Fatalf("barTimeline: %v", err)
	}

	want := []struct {
		clock string
		open  bool
	}{
		{"21:00", true},
		{"22:00", true},
		{"23:00", false},
		{"09:00", true},
		{"10:00", true},
		{"11:15", true}, // 10:00 bar absorbs the morning break
		{"14:15", true}, // 11:15 bar spans the lunch break
		{"15:00", false},
	}

	if len(tl) != len(want) {
		t.Fatalf("bar timeline has %d points, want %d: %v", len(tl), len(want), tl)
	}
	for i, w := range want {
		if got := unbias(tl[i].Minute); got != w.clock || tl[i].Open != w.open {
			t.Errorf("point %d = (%s, open=%v), want (%s, open=%v)",
				i, got, tl[i].Open, w.clock, w.open)
		}
	}
}

func TestBarTimeline240MinNightProduct(t *testing.T) {
	cache := newTimelineCache(timeline.NewRegistry())

	tl, err := cache.barTimeline(rbTick(21, 0), domain.Period240Min)
	if err != nil {
		t.Fatalf("barTimeline: %v", err)
	}

	// The whole trading day fits in two 240-minute bars: the night session
	// plus the first morning interval, then the rest of the day.
	want := []struct {
		clock string
		open  bool
	}{
		{"21:00", true},
		{"11:15", true},
		{"15:00", false},
	}

	if len(tl) != len(want) {
		t.Fatalf("bar timeline has %d points, want %d: %v", len(tl), len(want), tl)
	}
	for i, w := range want {
		if got := unbias(tl[i].Minute); got != w.clock || tl[i].Open != w.open {
			t.Errorf("point %d = (%s, open=%v), want (%s, open=%v)",
				i, got, tl[i].Open, w.clock, w.open)
		}
	}
}

func TestBarTimeline30MinDaySession(t *testing.T) {
	cache := newTimelineCache(timeline.NewRegistry())

	// SP has no night session; its timeline is the plain SHFE day session.
	tick := &domain.Tick{
		Symbol:   "SP1810",
		Exchange: domain.ExchangeSHFE,
		Datetime: time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local),
	}
	tl, err := cache.barTimeline(tick, domain.Period30Min)
	if err != nil {
		t.Fatalf("barTimeline: %v", err)
	}

	want := []string{"09:00", "09:30", "10:00", "10:45", "11:15", "13:45", "14:15", "14:45", "15:00"}
	if len(tl) != len(want) {
		t.Fatalf("bar timeline has %d points, want %d", len(tl), len(want))
	}
	for i, w := range want {
		if got := unbias(tl[i].Minute); got != w {
			t.Errorf("point %d = %s, want %s", i, got, w)
		}
	}
	if tl[len(tl)-1].Open {
		t.Error("terminal point should be a close")
	}
}

// tradingMinutes sums the overlap of [a, b) with the session's open
// intervals, in biased minutes.
func tradingMinutes(session []timeline.Point, a, b int) int {
	total := 0
	for i := 0; i+1 < len(session); i += 2 {
		lo, hi := session[i].Minute, session[i+1].Minute
		if lo < a {
			lo = a
		}
		if hi > b {
			hi = b
		}
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}

// Every bar in a mid-period timeline spans exactly one period of trading
// time, session gaps excluded; only the final bar of the day may be
// shorter.
func TestBarTimelineBarsSpanOnePeriod(t *testing.T) {
	registry := timeline.NewRegistry()
	products := []struct {
		symbol   string
		exchange domain.Exchange
	}{
		{"AU1812", domain.ExchangeSHFE}, // night until 02:30
		{"CU1809", domain.ExchangeSHFE}, // night until 01:00
		{"RB1810", domain.ExchangeSHFE}, // night until 23:00
		{"M1901", domain.ExchangeDCE},   // night until 23:30
		{"SP1810", domain.ExchangeSHFE}, // day only
	}
	periods := []domain.Period{
		domain.Period2Min, domain.Period30Min, domain.Period60Min,
		domain.Period120Min, domain.Period240Min,
	}

	for _, p := range products {
		tick := &domain.Tick{
			Symbol:   p.symbol,
			Exchange: p.exchange,
			Datetime: time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local),
		}
		session, err := registry.TimelineFor(tick)
		if err != nil {
			t.Fatalf("TimelineFor(%s): %v", p.symbol, err)
		}

		for _, period := range periods {
			tl := buildBarTimeline(session, period.Minutes())

			var opens []int
			for i, pt := range tl {
				if pt.Open {
					if i+1 >= len(tl) {
						t.Fatalf("%s/%d: timeline ends on an open point", p.symbol, period.Minutes())
					}
					opens = append(opens, i)
				}
			}

			for n, i := range opens {
				span := tradingMinutes(session, tl[i].Minute, tl[i+1].Minute)
				last := n == len(opens)-1
				if last {
					if span <= 0 || span > period.Minutes() {
						t.Errorf("%s/%dmin: final bar spans %d trading minutes", p.symbol, period.Minutes(), span)
					}
				} else if span != period.Minutes() {
					t.Errorf("%s/%dmin: bar at %s spans %d trading minutes, want %d",
						p.symbol, period.Minutes(), unbias(tl[i].Minute), span, period.Minutes())
				}
			}
		}
	}
}

func TestBarTimelineMemoized(t *testing.T) {
	cache := newTimelineCache(timeline.NewRegistry())

	first, err := cache.barTimeline(rbTick(21, 0), domain.Period60Min)
	if err != nil {
		t.Fatalf("barTimeline: %v", err)
	}
	second, err := cache.barTimeline(rbTick(9, 30), domain.Period60Min)
	if err != nil {
		t.Fatalf("barTimeline: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("expected memoized timeline to be reused")
	}
}
