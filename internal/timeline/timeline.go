// Package timeline models the per-product trading session schedule of the
// Chinese futures exchanges and decides whether a tick falls inside a
// trading session.
//
// A session timeline is an ordered list of points, each an open or close
// of a trading interval within one logical trading day:
//
//	[(21:00 open), (23:00 close),
//	 ( 9:00 open), (10:15 close),
//	 (10:30 open), (11:30 close), ...]
//
// Night sessions cross midnight (e.g. 21:00-02:30), so raw times of day do
// not sort. Every stored point and every query time therefore carries a
// fixed hour bias (modulo 24) that linearizes the trading day; the bias
// never leaves this package's internal representation.
package timeline

import (
	"errors"
	"fmt"
	"sort"

	"klinerec/internal/domain"
)

// HourBias is the hour offset added (mod 24) to all session points and
// query times so that a trading day with a night session sorts strictly
// ascending.
const HourBias = 6

// minutesPerDay is the size of the biased time-of-day space.
const minutesPerDay = 24 * 60

var (
	// ErrUnknownTimeline is returned when neither the product code nor the
	// exchange maps to a session timeline.
	ErrUnknownTimeline = errors.New("no trading timeline for tick")

	// ErrCFFEXProductClass is returned for CFFEX symbols whose product
	// class (index future vs treasury bond) has not been registered; the
	// two classes trade different hours and cannot be told apart from the
	// symbol alone.
	ErrCFFEXProductClass = errors.New("CFFEX product class not registered")
)

// Point is one session boundary in biased minutes-of-day.
type Point struct {
	Minute int  // time of day in minutes, bias already applied
	Open   bool // true = trading opens at this point, false = trading stops
}

// CFFEXClass distinguishes the two CFFEX day-session variants.
type CFFEXClass int

const (
	CFFEXIndexFuture  CFFEXClass = iota // IF: 09:30-11:30, 13:00-15:00
	CFFEXTreasuryBond                   // TB: 09:15-11:30, 13:00-15:15
)

// biased converts a raw hour/minute of day into biased minutes-of-day.
func biased(hour, minute int) int {
	return ((hour+HourBias)%24)*60 + minute
}

// BiasedMinute returns the biased minutes-of-day for a clock time.
func BiasedMinute(hour, minute int) int {
	return biased(hour, minute)
}

// session builds an alternating open/close point list from raw
// (hour, minute) pairs.
func session(hm ...[2]int) []Point {
	points := make([]Point, len(hm))
	for i, t := range hm {
		points[i] = Point{Minute: biased(t[0], t[1]), Open: i%2 == 0}
	}
	return points
}

// concat joins a night session and a day session into one trading day.
func concat(night, day []Point) []Point {
	out := make([]Point, 0, len(night)+len(day))
	out = append(out, night...)
	out = append(out, day...)
	return out
}

// Registry holds the static session tables and answers timeline queries.
// Construct one with NewRegistry; it is immutable afterwards except for
// CFFEX product-class registration.
type Registry struct {
	daySessions  map[domain.Exchange][]Point
	cffex        map[CFFEXClass][]Point
	nightByCode  map[string][]Point
	cffexClasses map[string]CFFEXClass
}

// NewRegistry builds the exchange-defined session tables.
func NewRegistry() *Registry {
	// Default day session shared by SHFE, DCE, CZCE and unknown exchanges.
	day := session([2]int{9, 0}, [2]int{10, 15}, [2]int{10, 30}, [2]int{11, 30}, [2]int{13, 30}, [2]int{15, 0})

	// Night session templates, each composed with the default day session.
	night1 := session([2]int{21, 0}, [2]int{2, 30})  // AU, AG
	night2 := session([2]int{21, 0}, [2]int{1, 0})   // CU, AL, ZN, PB, SN, NI
	night3 := session([2]int{21, 0}, [2]int{23, 0})  // RU, RB, HC, BU
	night4 := session([2]int{21, 0}, [2]int{23, 30}) // DCE products
	night5 := session([2]int{21, 0}, [2]int{23, 30}) // CZCE products

	nights := map[string][]Point{}
	add := func(tpl []Point, codes ...string) {
		full := concat(tpl, day)
		for _, c := range codes {
			nights[c] = full
		}
	}
	add(night1, "AU", "AG")
	add(night2, "CU", "AL", "ZN", "PB", "SN", "NI")
	add(night3, "RU", "RB", "HC", "BU")
	add(night4, "P", "J", "M", "Y", "A", "B", "JM", "I")
	add(night5, "SR", "CF", "RM", "MAPTA", "ZC", "FG", "OI")

	return &Registry{
		daySessions: map[domain.Exchange][]Point{
			domain.ExchangeUnknown: day,
			domain.ExchangeSHFE:    day,
			domain.ExchangeDCE:     day,
			domain.ExchangeCZCE:    day,
		},
		cffex: map[CFFEXClass][]Point{
			CFFEXIndexFuture:  session([2]int{9, 30}, [2]int{11, 30}, [2]int{13, 0}, [2]int{15, 0}),
			CFFEXTreasuryBond: session([2]int{9, 15}, [2]int{11, 30}, [2]int{13, 0}, [2]int{15, 15}),
		},
		nightByCode:  nights,
		cffexClasses: map[string]CFFEXClass{},
	}
}

// RegisterCFFEXClass tells the registry which day-session variant a CFFEX
// product code trades. Without a registration, CFFEX ticks are rejected.
func (r *Registry) RegisterCFFEXClass(code string, class CFFEXClass) {
	r.cffexClasses[code] = class
}

// TimelineFor returns the session timeline owning the tick, selected by
// product code (night-session products) or exchange (day-only products).
func (r *Registry) TimelineFor(t *domain.Tick) ([]Point, error) {
	code := t.ProductCode()

	if tl, ok := r.nightByCode[code]; ok {
		return tl, nil
	}

	if t.Exchange == domain.ExchangeCFFEX {
		class, ok := r.cffexClasses[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCFFEXProductClass, code)
		}
		return r.cffex[class], nil
	}

	if tl, ok := r.daySessions[t.Exchange]; ok {
		return tl, nil
	}

	return nil, fmt.Errorf("%w: symbol=%s exchange=%s", ErrUnknownTimeline, t.Symbol, t.Exchange)
}

// ValidTick reports whether the tick's time of day falls inside an open
// interval of its product's timeline. A tick exactly at an open point is
// valid; exactly at a close point it is not.
func (r *Registry) ValidTick(t *domain.Tick) (bool, error) {
	tl, err := r.TimelineFor(t)
	if err != nil {
		return false, err
	}
	m := biased(t.Datetime.Hour(), t.Datetime.Minute())
	// Seconds past the minute keep the tick inside the same biased minute,
	// which matters only at close points: 14:59:59 is still before the
	// 15:00 close, and minute resolution already places it there.
	return Locate(tl, m).Open, nil
}

// Locate returns the rightmost point with Minute <= m. When m precedes
// every point, the last point is returned instead: the timeline ends with
// a close, so a query outside the trading day correctly reads as closed.
func Locate(points []Point, m int) Point {
	idx := sort.Search(len(points), func(i int) bool { return points[i].Minute > m }) - 1
	if idx < 0 {
		idx = len(points) - 1
	}
	return points[idx]
}

// LocateIndex is Locate returning the index; the wrap-around for a query
// before all points yields len(points)-1.
func LocateIndex(points []Point, m int) int {
	idx := sort.Search(len(points), func(i int) bool { return points[i].Minute > m }) - 1
	if idx < 0 {
		idx = len(points) - 1
	}
	return idx
}

// NightEnd returns the first close point of a timeline, the end of the
// night session for products that have one.
func NightEnd(points []Point) Point {
	for _, p := range points {
		if !p.Open {
			return p
		}
	}
	return Point{}
}
