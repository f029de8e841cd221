// Package kline turns validated ticks into OHLCV K-lines at multiple
// periods: per-period generators assign each tick to a bucket, roll bars
// over at bucket boundaries, and report completed bars.
package kline

import (
	"klinerec/internal/domain"
	"klinerec/internal/timeline"
)

// timelineKey memoizes built bar timelines per (symbol, period).
type timelineKey struct {
	symbol string
	period domain.Period
}

// timelineCache owns the memo map for bar timelines and the session
// registry they derive from. One cache is shared by all generators of a
// MultiGenerator; there is no package-level state.
type timelineCache struct {
	registry *timeline.Registry
	memo     map[timelineKey][]timeline.Point
}

func newTimelineCache(registry *timeline.Registry) *timelineCache {
	return &timelineCache{
		registry: registry,
		memo:     make(map[timelineKey][]timeline.Point),
	}
}

// sessionFor returns the product's trading-session timeline.
func (c *timelineCache) sessionFor(t *domain.Tick) ([]timeline.Point, error) {
	return c.registry.TimelineFor(t)
}

// barTimeline returns the bar-boundary timeline for the tick's product at
// the given period, building and memoizing it on first use.
//
// A bar timeline is an ordered point list locating the bar that owns a
// tick, e.g. for 30-minute bars on the default day session:
//
//	[( 9:00 open), ( 9:30 open), (10:00 open),
//	 (10:45 open),              // absorbs the 10:15-10:30 break
//	 ...
//	 (15:00 close)]
//
// Most entries are opens, because consecutive bar starts serve as each
// other's ends; an explicit close appears only where a session gap falls
// exactly on a bar boundary, and at the very end. Times are biased like
// the session timelines they derive from.
func (c *timelineCache) barTimeline(t *domain.Tick, period domain.Period) ([]timeline.Point, error) {
	key := timelineKey{symbol: t.Symbol, period: period}
	if tl, ok := c.memo[key]; ok {
		return tl, nil
	}

	session, err := c.registry.TimelineFor(t)
	if err != nil {
		return nil, err
	}

	tl := buildBarTimeline(session, period.Minutes())
	c.memo[key] = tl
	return tl, nil
}

// buildBarTimeline walks the session intervals and splits them into
// period-sized bars. carry is the number of minutes the next interval must
// contribute to the previous interval's unfinished bar.
func buildBarTimeline(session []timeline.Point, periodMinutes int) []timeline.Point {
	var tl []timeline.Point
	carry := 0

	for i := 0; i+1 < len(session); i += 2 {
		open, close := session[i].Minute, session[i+1].Minute
		length := close - open

		// The whole interval extends the previous bar.
		if carry > length {
			carry -= length
			continue
		}

		usable := length - carry
		q, r := usable/periodMinutes, usable%periodMinutes

		for k := 0; k < q; k++ {
			tl = append(tl, timeline.Point{Minute: open + carry + k*periodMinutes, Open: true})
		}

		if r > 0 {
			// The remainder opens one more bar that the next interval
			// must top up to a full period.
			tl = append(tl, timeline.Point{Minute: open + carry + q*periodMinutes, Open: true})
			carry = periodMinutes - r
		} else {
			// The interval ends exactly on a bar boundary; the next bar
			// start is in a later interval, so a close sentinel marks the
			// boundary here.
			tl = append(tl, timeline.Point{Minute: close, Open: false})
			carry = 0
		}
	}

	// Terminal close sentinel.
	last := session[len(session)-1]
	if len(tl) == 0 || tl[len(tl)-1] != last {
		tl = append(tl, last)
	}
	return tl
}
