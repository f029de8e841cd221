package kline

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/timeline"
)

// Recorder receives asynchronous persistence tasks. Implementations must
// snapshot the payload before queuing: the tick path keeps mutating the
// bars it hands over.
type Recorder interface {
	UpsertTick(db, collection string, t *domain.Tick)
	UpsertKline(db, collection string, k *domain.KLine)
}

// Options configures a MultiGenerator.
type Options struct {
	// Periods to generate. Empty defaults to 1-minute bars only.
	Periods []domain.Period

	// RecordingTick also persists every valid tick.
	RecordingTick bool

	// IgnorePast drops ticks older than the generator's construction
	// time.
	IgnorePast bool

	Finder   Finder   // historical bar loads, nil disables hydration
	Recorder Recorder // persistence sink, nil disables recording
	Logger   *slog.Logger
}

// MultiGenerator fans ticks out to one Generator per configured period.
// It owns tick validation, the per-symbol volume differencing, and the
// persistence of updated bars.
type MultiGenerator struct {
	registry  *timeline.Registry
	timelines *timelineCache
	gens      map[domain.Period]*Generator
	periods   []domain.Period

	recorder      Recorder
	recordingTick bool

	// guard rejects ticks older than startup when IgnorePast is set.
	guard time.Time

	// lastDailyVolumes holds each symbol's last cumulative daily volume,
	// the basis for per-tick volume deltas.
	lastDailyVolumes map[string]int64

	log *slog.Logger
}

// NewMultiGenerator builds the per-period generators against the given
// session registry.
func NewMultiGenerator(registry *timeline.Registry, opts Options) *MultiGenerator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	periods := opts.Periods
	if len(periods) == 0 {
		periods = []domain.Period{domain.Period1Min}
	}
	periods = append([]domain.Period(nil), periods...)
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	cache := newTimelineCache(registry)
	gens := make(map[domain.Period]*Generator, len(periods))
	for _, p := range periods {
		gens[p] = NewGenerator(p, cache, opts.Finder, log)
	}

	var guard time.Time
	if opts.IgnorePast {
		guard = time.Now()
	}

	return &MultiGenerator{
		registry:         registry,
		timelines:        cache,
		gens:             gens,
		periods:          periods,
		recorder:         opts.Recorder,
		recordingTick:    opts.RecordingTick,
		guard:            guard,
		lastDailyVolumes: make(map[string]int64),
		log:              log,
	}
}

// Periods returns the configured periods in ascending order.
func (m *MultiGenerator) Periods() []domain.Period {
	return append([]domain.Period(nil), m.periods...)
}

// Update feeds one tick through validation, volume differencing, and
// every per-period generator, persisting the updated bars (and the tick,
// when recording) under the symbol and its active-contract alias.
//
// A nil result map with a nil error means the tick was dropped: it
// predates the guard or falls outside the trading session. An error means
// the product has no known timeline; such ticks are dropped too.
func (m *MultiGenerator) Update(tick *domain.Tick, active map[string]string) (map[domain.Period]Result, error) {
	if err := tick.Normalize(); err != nil {
		return nil, err
	}
	if tick.Datetime.Before(m.guard) {
		return nil, nil
	}
	ok, err := m.registry.ValidTick(tick)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	// Volume delta from the cumulative daily counter. The first tick of a
	// symbol seeds the map and is credited zero volume; a counter that
	// shrank (new trading day) clamps to zero as well.
	last, seen := m.lastDailyVolumes[tick.Symbol]
	if !seen {
		last = tick.Volume
	}
	delta := tick.Volume - last
	if delta < 0 {
		delta = 0
	}
	tick.LastVolume = delta
	m.lastDailyVolumes[tick.Symbol] = tick.Volume

	alias := active[tick.Symbol]

	if m.recordingTick && m.recorder != nil {
		m.recorder.UpsertTick(domain.TickDBName, tick.Symbol, tick)
		if alias != "" {
			m.recorder.UpsertTick(domain.TickDBName, alias, tick)
		}
	}

	results := make(map[domain.Period]Result, len(m.gens))
	for p, g := range m.gens {
		res, err := g.Update(tick)
		if err != nil {
			m.log.Error("kline update failed",
				"symbol", tick.Symbol,
				"period", p.Minutes(),
				"error", err,
			)
			continue
		}
		results[p] = res

		if m.recorder != nil {
			m.recorder.UpsertKline(p.DBName(), tick.Symbol, res.Kline)
			if alias != "" {
				m.recorder.UpsertKline(p.DBName(), alias, res.Kline)
			}
		}
	}
	return results, nil
}

// LastKlines returns up to count recent bars of the symbol at the given
// period, oldest first. See Generator.LastKlines for the onlyCompleted
// semantics.
func (m *MultiGenerator) LastKlines(symbol string, period domain.Period, count int, onlyCompleted bool, newestTick time.Time) ([]*domain.KLine, error) {
	g, ok := m.gens[period]
	if !ok {
		return nil, fmt.Errorf("period %d minutes not configured", period.Minutes())
	}
	if newestTick.IsZero() {
		newestTick = time.Now()
	}
	return g.LastKlines(symbol, count, onlyCompleted, newestTick), nil
}
