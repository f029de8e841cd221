// Package domain defines the core market-data types shared across the
// recorder: ticks, K-lines, exchanges, and aggregation periods.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Exchange identifies a Chinese futures exchange.
type Exchange string

const (
	ExchangeSHFE    Exchange = "SHFE"  // Shanghai Futures Exchange
	ExchangeDCE     Exchange = "DCE"   // Dalian Commodity Exchange
	ExchangeCZCE    Exchange = "CZCE"  // Zhengzhou Commodity Exchange
	ExchangeCFFEX   Exchange = "CFFEX" // China Financial Futures Exchange
	ExchangeUnknown Exchange = ""
)

// Period is the length of one K-line bucket in minutes.
type Period int

const (
	Period1Min   Period = 1
	Period2Min   Period = 2
	Period3Min   Period = 3
	Period5Min   Period = 5
	Period15Min  Period = 15
	Period30Min  Period = 30
	Period60Min  Period = 60
	Period120Min Period = 120
	Period240Min Period = 240
	PeriodDaily  Period = 1440
)

// AllPeriods lists every supported period in ascending order.
var AllPeriods = []Period{
	Period1Min, Period2Min, Period3Min, Period5Min, Period15Min,
	Period30Min, Period60Min, Period120Min, Period240Min, PeriodDaily,
}

// TickDBName is the logical database holding raw tick collections.
const TickDBName = "VnTrader_Tick_Db"

// Minutes returns the period length in minutes.
func (p Period) Minutes() int { return int(p) }

// Valid reports whether p is one of the supported periods.
func (p Period) Valid() bool {
	for _, v := range AllPeriods {
		if p == v {
			return true
		}
	}
	return false
}

// DBName returns the logical database name that stores K-lines of this
// period.
func (p Period) DBName() string {
	if p == PeriodDaily {
		return "VnTrader_Daily_Db"
	}
	return fmt.Sprintf("VnTrader_%dMin_Db", int(p))
}

// Duration returns the period length as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p) * time.Minute
}

// ParsePeriod converts a minute count (as found in the recorder settings
// file) into a Period.
func ParsePeriod(minutes int) (Period, error) {
	p := Period(minutes)
	if !p.Valid() {
		return 0, fmt.Errorf("unsupported kline period: %d minutes", minutes)
	}
	return p, nil
}

// tickTimeLayout matches the wire format of the tick date/time fields:
// "YYYYMMDD HH:MM:SS.ffffff" in local wall-clock time.
const tickTimeLayout = "20060102 15:04:05.000000"

// Tick is a single market-data update. Volume is the cumulative daily
// volume reported by the exchange; LastVolume is the per-tick delta
// derived by the generator.
type Tick struct {
	Symbol   string
	VtSymbol string
	Exchange Exchange

	// Date and Time carry the raw feed fields ("YYYYMMDD" and
	// "HH:MM:SS.ffffff"); Datetime is filled from them when unset.
	Date     string
	Time     string
	Datetime time.Time

	LastPrice  float64
	Volume     int64
	LastVolume int64
}

// Normalize uppercases the identifying fields and fills Datetime from the
// raw date/time fields when the feed did not precompute it.
func (t *Tick) Normalize() error {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.VtSymbol = strings.ToUpper(strings.TrimSpace(t.VtSymbol))
	t.Exchange = Exchange(strings.ToUpper(strings.TrimSpace(string(t.Exchange))))

	if t.Datetime.IsZero() {
		dt, err := time.ParseInLocation(tickTimeLayout, t.Date+" "+t.Time, time.Local)
		if err != nil {
			return fmt.Errorf("parsing tick datetime: %w", err)
		}
		t.Datetime = dt
	}
	return nil
}

// ProductCode extracts the product code from the symbol by stripping the
// trailing contract-month digits, e.g. "RB1810" -> "RB".
func (t *Tick) ProductCode() string {
	return strings.ToUpper(strings.TrimRight(strings.TrimSpace(t.Symbol), "0123456789"))
}

// Sentinel timestamps for a freshly created K-line: any real tick moves
// both of them.
var (
	farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	farPast   = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
)

// KLine is an OHLCV bar. Datetime identifies the bucket: for intraday
// periods it is the bar's end wall-clock time, for daily bars midnight of
// the owning trading date.
type KLine struct {
	Datetime time.Time

	Symbol   string
	VtSymbol string

	Open  float64
	High  float64
	Low   float64
	Close float64

	// OpenDatetime and CloseDatetime record the ticks that set Open and
	// Close, so a restarted recorder can keep updating a still-open bar.
	OpenDatetime  time.Time
	CloseDatetime time.Time

	Volume int64
}

// NewKLine creates an empty bar for the given bucket. Low starts at a
// large sentinel so the first tick always lowers it; the OC timestamps
// start at the far ends so the first tick always claims both.
func NewKLine(bucket time.Time) *KLine {
	return &KLine{
		Datetime:      bucket,
		Low:           math.MaxFloat64,
		OpenDatetime:  farFuture,
		CloseDatetime: farPast,
	}
}

// Apply folds one tick into the bar. The earliest tick seen sets Open,
// the latest sets Close; High/Low track the price extremes and Volume
// accumulates the per-tick deltas.
func (k *KLine) Apply(t *Tick) {
	if t.Datetime.Before(k.OpenDatetime) {
		k.Open = t.LastPrice
		k.OpenDatetime = t.Datetime
	}
	if t.Datetime.After(k.CloseDatetime) {
		k.Close = t.LastPrice
		k.CloseDatetime = t.Datetime
	}
	if t.LastPrice > k.High {
		k.High = t.LastPrice
	}
	if t.LastPrice < k.Low {
		k.Low = t.LastPrice
	}
	k.Volume += t.LastVolume
}

func (k *KLine) String() string {
	return fmt.Sprintf("[datetime=%s, symbol=%s, open=%v <%v>, high=<%v>, low=<%v>, close=%v <%v>, volume=<%d>]",
		k.Datetime.Format("2006-01-02 15:04:05"),
		k.Symbol,
		k.OpenDatetime.Format("15:04:05"), k.Open,
		k.High, k.Low,
		k.CloseDatetime.Format("15:04:05"), k.Close,
		k.Volume)
}
