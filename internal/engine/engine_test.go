package engine

import (
	"sync"
	"testing"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/timeline"
)

func newTestEngine(periods ...domain.Period) *Engine {
	return New(timeline.NewRegistry(), Options{Periods: periods})
}

func rbTick(dt time.Time, price float64, volume int64) *domain.Tick {
	return &domain.Tick{
		Symbol:    "RB1810",
		VtSymbol:  "RB1810",
		Exchange:  domain.ExchangeSHFE,
		Datetime:  dt,
		LastPrice: price,
		Volume:    volume,
	}
}

func TestEngineDispatchesCompletedBars(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	var completed []*domain.KLine
	e.Subscribe("rb1810", domain.Period1Min, func(k *domain.KLine) {
		completed = append(completed, k)
	})

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	if err := e.ProcessTick(rbTick(day.Add(10*time.Second), 3500, 100)); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("no bar should complete after one tick, got %d", len(completed))
	}

	if err := e.ProcessTick(rbTick(day.Add(time.Minute+10*time.Second), 3505, 130)); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("dispatched %d completions, want 1", len(completed))
	}
	if want := day.Add(time.Minute); !completed[0].Datetime.Equal(want) {
		t.Errorf("completed bar = %s, want %s", completed[0].Datetime, want)
	}
}

func TestEngineCallbackOrderAndUnsubscribe(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	var order []int
	e.Subscribe("RB1810", domain.Period1Min, func(*domain.KLine) { order = append(order, 1) })
	h2 := e.Subscribe("RB1810", domain.Period1Min, func(*domain.KLine) { order = append(order, 2) })
	e.Subscribe("RB1810", domain.Period1Min, func(*domain.KLine) { order = append(order, 3) })

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	e.ProcessTick(rbTick(day.Add(10*time.Second), 3500, 100))
	e.ProcessTick(rbTick(day.Add(time.Minute+10*time.Second), 3505, 130))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callback order = %v, want [1 2 3]", order)
	}

	order = nil
	e.Unsubscribe(h2)
	e.ProcessTick(rbTick(day.Add(2*time.Minute+10*time.Second), 3502, 150))

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("callback order after unsubscribe = %v, want [1 3]", order)
	}
}

func TestEngineRecoversPanickingCallback(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	var survived bool
	e.Subscribe("RB1810", domain.Period1Min, func(*domain.KLine) { panic("boom") })
	e.Subscribe("RB1810", domain.Period1Min, func(*domain.KLine) { survived = true })

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	e.ProcessTick(rbTick(day.Add(10*time.Second), 3500, 100))
	if err := e.ProcessTick(rbTick(day.Add(time.Minute+10*time.Second), 3505, 130)); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	if !survived {
		t.Error("sibling callback did not run after a panic")
	}
}

func TestEngineUnknownTimelineError(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	tick := &domain.Tick{
		Symbol:    "ES2024",
		Exchange:  "NYMEX",
		Datetime:  time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local),
		LastPrice: 70.5,
	}
	if err := e.ProcessTick(tick); err == nil {
		t.Fatal("expected error for a product with no timeline")
	}
}

func TestEngineSubmitDropsWhenFull(t *testing.T) {
	e := New(timeline.NewRegistry(), Options{
		Periods:       []domain.Period{domain.Period1Min},
		TickQueueSize: 1,
	})

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	if !e.Submit(rbTick(day, 3500, 100)) {
		t.Fatal("first Submit should be accepted")
	}
	if e.Submit(rbTick(day.Add(time.Second), 3501, 110)) {
		t.Error("Submit into a full queue should report a drop")
	}
}

// LastKlines is served from HTTP handler goroutines while the tick
// goroutine keeps updating the same series; the two paths must be safe
// to run concurrently (run with -race).
func TestEngineLastKlinesConcurrentWithTicks(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.ProcessTick(rbTick(day.Add(time.Duration(i)*time.Second), 3500+float64(i%5), int64(100+i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			bars, err := e.LastKlines("RB1810", domain.Period1Min, 5, false, time.Time{})
			if err != nil {
				t.Errorf("LastKlines: %v", err)
				return
			}
			for _, k := range bars {
				if k.High < k.Low {
					t.Errorf("inconsistent bar read: high %v < low %v", k.High, k.Low)
					return
				}
			}
		}
	}()
	wg.Wait()
}

func TestEngineLastKlinesReturnsCopies(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	if err := e.ProcessTick(rbTick(day.Add(10*time.Second), 3500, 100)); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	bars, err := e.LastKlines("RB1810", domain.Period1Min, 1, false, time.Time{})
	if err != nil {
		t.Fatalf("LastKlines: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("LastKlines returned %d bars, want 1", len(bars))
	}
	bars[0].Close = -1

	again, err := e.LastKlines("RB1810", domain.Period1Min, 1, false, time.Time{})
	if err != nil {
		t.Fatalf("LastKlines: %v", err)
	}
	if again[0].Close == -1 {
		t.Error("mutating a returned bar leaked into the cache")
	}
}

func TestEngineLastKlines(t *testing.T) {
	e := newTestEngine(domain.Period1Min)

	day := time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local)
	e.ProcessTick(rbTick(day.Add(10*time.Second), 3500, 100))
	e.ProcessTick(rbTick(day.Add(time.Minute+10*time.Second), 3505, 130))

	bars, err := e.LastKlines("RB1810", domain.Period1Min, 10, false, time.Time{})
	if err != nil {
		t.Fatalf("LastKlines: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("LastKlines returned %d bars, want 2", len(bars))
	}

	if _, err := e.LastKlines("RB1810", domain.Period60Min, 10, false, time.Time{}); err == nil {
		t.Error("expected error for an unconfigured period")
	}
}
