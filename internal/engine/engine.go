// Package engine wires the K-line generators, the persistence writer, and
// the bar-completion subscription registry into the recorder's
// tick-processing core.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/kline"
	"klinerec/internal/store"
	"klinerec/internal/timeline"
)

// Callback receives a completed bar. Callbacks run synchronously on the
// tick-processing goroutine, in registration order; a panicking callback
// is recovered and logged without affecting its siblings.
type Callback func(*domain.KLine)

// Handle identifies one subscription for removal.
type Handle struct {
	symbol string
	period domain.Period
	slot   int
}

type listener struct {
	slot int
	cb   Callback
}

// Options configures an Engine.
type Options struct {
	// Periods to aggregate. Empty defaults to 1-minute bars.
	Periods []domain.Period

	// RecordingTick also persists every valid tick.
	RecordingTick bool

	// IgnorePast drops ticks that predate engine construction.
	IgnorePast bool

	// ActiveContracts maps a contract symbol to its continuous-contract
	// alias; updated documents are persisted under both names. Read-only
	// after construction.
	ActiveContracts map[string]string

	// Reader serves hydration reads on its own store handle, separate
	// from the writer's.
	Reader store.DocumentStore

	// Writer is the asynchronous persistence worker. Nil disables
	// persistence.
	Writer *store.Writer

	// TickQueueSize bounds the Submit queue feeding Run. Zero picks a
	// default.
	TickQueueSize int

	Logger *slog.Logger
}

const defaultTickQueueSize = 4096

// Engine is the tick-processing core. Generator state is mutated by the
// goroutine running ProcessTick (directly or via Run); LastKlines may be
// called from other goroutines (the HTTP handlers) and is serialized
// against tick processing by genMu, returning copies so callers never
// share bars with the tick path. The persistence writer runs on its own
// goroutine behind a queue.
type Engine struct {
	genMu   sync.Mutex
	gen     *kline.MultiGenerator
	periods []domain.Period
	active  map[string]string
	ticks   chan *domain.Tick
	log     *slog.Logger

	subsMu    sync.Mutex
	listeners map[string]map[domain.Period][]listener
	nextSlot  int
}

// New builds an engine over the given session registry.
func New(registry *timeline.Registry, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	var finder kline.Finder
	if opts.Reader != nil {
		finder = storeFinder{opts.Reader}
	}
	var recorder kline.Recorder
	if opts.Writer != nil {
		recorder = opts.Writer
	}

	gen := kline.NewMultiGenerator(registry, kline.Options{
		Periods:       opts.Periods,
		RecordingTick: opts.RecordingTick,
		IgnorePast:    opts.IgnorePast,
		Finder:        finder,
		Recorder:      recorder,
		Logger:        log,
	})

	queueSize := opts.TickQueueSize
	if queueSize <= 0 {
		queueSize = defaultTickQueueSize
	}

	return &Engine{
		gen:       gen,
		periods:   gen.Periods(),
		active:    opts.ActiveContracts,
		ticks:     make(chan *domain.Tick, queueSize),
		log:       log,
		listeners: make(map[string]map[domain.Period][]listener),
	}
}

// ProcessTick runs one tick through validation, aggregation, and
// completion dispatch. Ticks outside trading sessions are dropped
// silently; an unknown product timeline is returned as an error and the
// tick is dropped as well.
func (e *Engine) ProcessTick(tick *domain.Tick) error {
	e.genMu.Lock()
	results, err := e.gen.Update(tick, e.active)
	e.genMu.Unlock()
	if err != nil {
		return err
	}

	for _, p := range e.periods {
		res, ok := results[p]
		if !ok || !res.Completed {
			continue
		}
		for _, l := range e.snapshotListeners(res.Kline.Symbol, p) {
			e.invoke(l.cb, res.Kline)
		}
	}
	return nil
}

// Submit queues a tick for the Run loop without blocking. It reports
// whether the tick was accepted; a full queue drops the tick with a
// warning.
func (e *Engine) Submit(tick *domain.Tick) bool {
	select {
	case e.ticks <- tick:
		return true
	default:
		e.log.Warn("tick queue full, dropping tick", "symbol", tick.Symbol)
		return false
	}
}

// Run consumes submitted ticks until the context is cancelled. It is the
// single goroutine allowed to mutate generator state.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-e.ticks:
			if err := e.ProcessTick(tick); err != nil {
				e.log.Warn("tick dropped",
					"symbol", tick.Symbol,
					"exchange", tick.Exchange,
					"error", err,
				)
			}
		}
	}
}

// Subscribe registers a callback for completed bars of (symbol, period).
func (e *Engine) Subscribe(symbol string, period domain.Period, cb Callback) Handle {
	sym := normalizeSymbol(symbol)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	byPeriod, ok := e.listeners[sym]
	if !ok {
		byPeriod = make(map[domain.Period][]listener)
		e.listeners[sym] = byPeriod
	}
	slot := e.nextSlot
	e.nextSlot++
	byPeriod[period] = append(byPeriod[period], listener{slot: slot, cb: cb})

	return Handle{symbol: sym, period: period, slot: slot}
}

// SubscribeAll registers one callback per period for a symbol and returns
// the handles in period order.
func (e *Engine) SubscribeAll(symbol string, cbs map[domain.Period]Callback) []Handle {
	handles := make([]Handle, 0, len(cbs))
	for _, p := range e.periods {
		if cb, ok := cbs[p]; ok {
			handles = append(handles, e.Subscribe(symbol, p, cb))
		}
	}
	return handles
}

// Unsubscribe removes a subscription by its handle. Unknown handles are
// ignored.
func (e *Engine) Unsubscribe(h Handle) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	ls := e.listeners[h.symbol][h.period]
	for i, l := range ls {
		if l.slot == h.slot {
			e.listeners[h.symbol][h.period] = append(ls[:i], ls[i+1:]...)
			return
		}
	}
}

// LastKlines returns up to count recent bars for the symbol at the given
// period, oldest first. A zero newestTick means "now". The returned bars
// are copies: the tick goroutine keeps mutating the live cache.
func (e *Engine) LastKlines(symbol string, period domain.Period, count int, onlyCompleted bool, newestTick time.Time) ([]*domain.KLine, error) {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	bars, err := e.gen.LastKlines(symbol, period, count, onlyCompleted, newestTick)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.KLine, len(bars))
	for i, k := range bars {
		c := *k
		out[i] = &c
	}
	return out, nil
}

// Periods returns the configured periods in ascending order.
func (e *Engine) Periods() []domain.Period {
	return append([]domain.Period(nil), e.periods...)
}

func (e *Engine) snapshotListeners(symbol string, period domain.Period) []listener {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	ls := e.listeners[symbol][period]
	if len(ls) == 0 {
		return nil
	}
	out := make([]listener, len(ls))
	copy(out, ls)
	return out
}

func (e *Engine) invoke(cb Callback, k *domain.KLine) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("kline completion callback panicked",
				"symbol", k.Symbol,
				"panic", r,
			)
		}
	}()
	cb(k)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// storeFinder adapts the document store to the generator's hydration
// interface.
type storeFinder struct {
	store store.DocumentStore
}

func (f storeFinder) FindLastKlines(db, collection string, count int, before time.Time) ([]*domain.KLine, error) {
	return f.store.FindLastKlines(context.Background(), db, collection, count, before)
}
