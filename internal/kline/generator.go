package kline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/timeline"
	"klinerec/internal/util"
)

const (
	// InitKlineCount is how many historical bars are preloaded from the
	// store the first time a symbol is seen.
	InitKlineCount = 10

	// MaxKlineCount bounds the per-symbol bar cache; the oldest bars are
	// evicted beyond it.
	MaxKlineCount = 100000
)

// Finder loads historical K-lines for cache hydration. Results are the
// most recent bars strictly before the given datetime, newest first.
type Finder interface {
	FindLastKlines(db, collection string, count int, before time.Time) ([]*domain.KLine, error)
}

// Result is the outcome of feeding one tick to a generator: the bar the
// caller should persist, and whether that bar just completed.
type Result struct {
	Kline     *domain.KLine
	Completed bool
}

// Generator maintains the bar series of every symbol for a single period.
// It is not safe for concurrent use; the tick path is single-threaded.
type Generator struct {
	period    domain.Period
	timelines *timelineCache
	finder    Finder // nil disables hydration
	series    map[string][]*domain.KLine
	log       *slog.Logger
}

// NewGenerator creates a single-period generator sharing the given
// bar-timeline cache.
func NewGenerator(period domain.Period, timelines *timelineCache, finder Finder, log *slog.Logger) *Generator {
	return &Generator{
		period:    period,
		timelines: timelines,
		finder:    finder,
		series:    make(map[string][]*domain.KLine),
		log:       log,
	}
}

// Update folds the tick into its bucket's bar. When the tick opens a new
// bucket and an earlier bar exists, that previous bar is returned with
// Completed=true; otherwise the updated bar is returned with
// Completed=false.
func (g *Generator) Update(tick *domain.Tick) (Result, error) {
	sym := tick.Symbol
	if len(g.series[sym]) == 0 {
		g.hydrate(sym, InitKlineCount)
	}

	bucket, err := g.bucketFor(tick)
	if err != nil {
		return Result{}, err
	}

	bars := g.series[sym]
	if i := indexOf(bars, bucket); i >= 0 {
		bars[i].Apply(tick)
		return Result{Kline: bars[i]}, nil
	}

	bar := domain.NewKLine(bucket)
	bar.Symbol = sym
	bar.VtSymbol = tick.VtSymbol
	bar.Apply(tick)

	if len(bars) == 0 {
		g.series[sym] = []*domain.KLine{bar}
		return Result{Kline: bar}, nil
	}

	prev := bars[len(bars)-1]
	bars = insertBar(bars, bar)

	// Evict oldest buckets beyond the cache cap.
	if len(bars) > MaxKlineCount {
		bars = bars[len(bars)-MaxKlineCount:]
	}
	g.series[sym] = bars

	return Result{Kline: prev, Completed: true}, nil
}

// LastKlines returns up to count recent bars for the symbol, oldest
// first, hydrating the cache from the store when it holds fewer than
// count bars. With onlyCompleted, bars still updatable at newestTick are
// skipped: intraday bars whose end has not passed, and the daily bar of
// newestTick's own trading date.
func (g *Generator) LastKlines(symbol string, count int, onlyCompleted bool, newestTick time.Time) []*domain.KLine {
	sym := strings.ToUpper(symbol)
	if len(g.series[sym]) <= count {
		g.hydrate(sym, count)
	}
	bars := g.series[sym]

	from := len(bars)
	if onlyCompleted {
		for i := len(bars) - 1; i >= 0; i-- {
			if g.period < domain.PeriodDaily {
				if bars[i].Datetime.Before(newestTick) {
					break
				}
			} else {
				tickDate := dateOnly(util.NextWorkingDay(newestTick.Add(timeline.HourBias * time.Hour)))
				if dateOnly(bars[i].Datetime).Before(tickDate) {
					break
				}
			}
			from--
		}
	}

	lo := from - count
	if lo < 0 {
		lo = 0
	}
	out := make([]*domain.KLine, from-lo)
	copy(out, bars[lo:from])
	return out
}

// hydrate loads enough historical bars from the store to bring the
// symbol's cache up to count. A short read is accepted as-is.
func (g *Generator) hydrate(symbol string, count int) {
	if g.finder == nil {
		return
	}
	bars := g.series[symbol]
	need := count - len(bars) + 1
	if need <= 0 {
		return
	}

	// Bars crossing a weekend can end days in the future (a Friday night
	// tick updating next Monday's daily bar), hence the three-day slack.
	before := time.Now().Add(3 * 24 * time.Hour)
	if len(bars) > 0 {
		before = bars[0].Datetime
	}

	docs, err := g.finder.FindLastKlines(g.period.DBName(), symbol, need, before)
	if err != nil {
		g.log.Warn("kline hydration failed",
			"symbol", symbol,
			"period", g.period.Minutes(),
			"error", err,
		)
		return
	}

	for _, k := range docs {
		if indexOf(bars, k.Datetime) < 0 {
			bars = append(bars, k)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
	g.series[symbol] = bars
}

// bucketFor computes the bucket datetime owning the tick, per period
// class.
func (g *Generator) bucketFor(tick *domain.Tick) (time.Time, error) {
	switch g.period {
	case domain.Period1Min, domain.Period3Min, domain.Period5Min, domain.Period15Min:
		return g.shortBucket(tick), nil
	case domain.Period2Min, domain.Period30Min, domain.Period60Min, domain.Period120Min, domain.Period240Min:
		return g.midBucket(tick)
	case domain.PeriodDaily:
		return g.dailyBucket(tick), nil
	}
	return time.Time{}, fmt.Errorf("no bucket rule for period %d", g.period)
}

// shortBucket floors the tick minute to the period grid and returns the
// grid slot's end. Short periods divide the hour, so they never straddle
// a session gap.
func (g *Generator) shortBucket(tick *domain.Tick) time.Time {
	tm := truncateMinute(tick.Datetime)
	rem := (tm.Hour()*60 + tm.Minute()) % g.period.Minutes()
	return tm.Add(time.Duration(g.period.Minutes()-rem) * time.Minute)
}

// midBucket locates the tick in the product's bar timeline; the next
// boundary after the owning bar-open gives the bar end. A Friday-night
// bar that straddles the night-session close would otherwise end on
// Saturday, so its end date is pushed past the weekend.
func (g *Generator) midBucket(tick *domain.Tick) (time.Time, error) {
	tl, err := g.timelines.barTimeline(tick, g.period)
	if err != nil {
		return time.Time{}, err
	}

	tm := truncateMinute(tick.Datetime)
	m := timeline.BiasedMinute(tm.Hour(), tm.Minute())

	idx := timeline.LocateIndex(tl, m)
	if !tl[idx].Open || idx+1 >= len(tl) {
		return time.Time{}, fmt.Errorf("tick at %s outside bar timeline", tick.Datetime.Format("15:04:05"))
	}

	end := tm.Add(time.Duration(tl[idx+1].Minute-m) * time.Minute)

	// Friday night session: the trading day (tick time plus bias) falls
	// on Saturday.
	if tick.Datetime.Add(timeline.HourBias*time.Hour).Weekday() == time.Saturday {
		session, err := g.timelines.sessionFor(tick)
		if err != nil {
			return time.Time{}, err
		}
		nightEnd := timeline.NightEnd(session)
		if tl[idx].Minute < nightEnd.Minute && nightEnd.Minute < tl[idx+1].Minute {
			end = util.NextWorkingDay(end)
		}
	}
	return end, nil
}

// dailyBucket returns midnight of the tick's trading date: the biased
// date, advanced past the weekend.
func (g *Generator) dailyBucket(tick *domain.Tick) time.Time {
	d := util.NextWorkingDay(tick.Datetime.Add(timeline.HourBias * time.Hour))
	return dateOnly(d)
}

// indexOf binary-searches the ascending bar series for the bucket.
// Returns -1 when absent.
func indexOf(bars []*domain.KLine, bucket time.Time) int {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Datetime.Before(bucket) })
	if i < len(bars) && bars[i].Datetime.Equal(bucket) {
		return i
	}
	return -1
}

// insertBar inserts the bar keeping the series ascending. The common
// case appends; a late tick's bar is spliced into position.
func insertBar(bars []*domain.KLine, bar *domain.KLine) []*domain.KLine {
	if bar.Datetime.After(bars[len(bars)-1].Datetime) {
		return append(bars, bar)
	}
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Datetime.After(bar.Datetime) })
	bars = append(bars, nil)
	copy(bars[i+1:], bars[i:])
	bars[i] = bar
	return bars
}

func truncateMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
