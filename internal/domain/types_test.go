package domain

import (
	"testing"
	"time"
)

func TestTickNormalize(t *testing.T) {
	tick := &Tick{
		Symbol:   "rb1810",
		VtSymbol: "rb1810",
		Exchange: "shfe",
		Date:     "20240515",
		Time:     "21:30:00.500000",
	}
	if err := tick.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if tick.Symbol != "RB1810" {
		t.Errorf("symbol = %q, want RB1810", tick.Symbol)
	}
	if tick.Exchange != ExchangeSHFE {
		t.Errorf("exchange = %q, want SHFE", tick.Exchange)
	}
	want := time.Date(2024, 5, 15, 21, 30, 0, 500000000, time.Local)
	if !tick.Datetime.Equal(want) {
		t.Errorf("datetime = %s, want %s", tick.Datetime, want)
	}
}

func TestTickNormalizeKeepsPrecomputedDatetime(t *testing.T) {
	dt := time.Date(2024, 5, 15, 21, 30, 0, 0, time.Local)
	tick := &Tick{Symbol: "RB1810", Datetime: dt, Date: "19990101", Time: "00:00:00.000000"}
	if err := tick.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !tick.Datetime.Equal(dt) {
		t.Errorf("datetime = %s, want the precomputed %s", tick.Datetime, dt)
	}
}

func TestTickNormalizeBadDatetime(t *testing.T) {
	tick := &Tick{Symbol: "RB1810", Date: "2024-05-15", Time: "21:30"}
	if err := tick.Normalize(); err == nil {
		t.Fatal("expected error for malformed date/time fields")
	}
}

func TestTickProductCode(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"RB1810", "RB"},
		{"rb1810", "RB"},
		{"AU1812", "AU"},
		{"MAPTA805", "MAPTA"},
		{"IF1810", "IF"},
	}
	for _, tt := range tests {
		tick := &Tick{Symbol: tt.symbol}
		if got := tick.ProductCode(); got != tt.want {
			t.Errorf("ProductCode(%s) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(60); err != nil || p != Period60Min {
		t.Errorf("ParsePeriod(60) = %v, %v", p, err)
	}
	if p, err := ParsePeriod(1440); err != nil || p != PeriodDaily {
		t.Errorf("ParsePeriod(1440) = %v, %v", p, err)
	}
	if _, err := ParsePeriod(7); err == nil {
		t.Error("ParsePeriod(7) should fail")
	}
}

func TestPeriodDBName(t *testing.T) {
	if got := Period60Min.DBName(); got != "VnTrader_60Min_Db" {
		t.Errorf("DBName = %q", got)
	}
	if got := PeriodDaily.DBName(); got != "VnTrader_Daily_Db" {
		t.Errorf("daily DBName = %q", got)
	}
}

func TestKLineApply(t *testing.T) {
	bucket := time.Date(2024, 5, 15, 22, 0, 0, 0, time.Local)
	k := NewKLine(bucket)

	at := func(min, sec int) time.Time {
		return time.Date(2024, 5, 15, 21, min, sec, 0, time.Local)
	}
	ticks := []*Tick{
		{Datetime: at(0, 0), LastPrice: 3500, LastVolume: 0},
		{Datetime: at(30, 0), LastPrice: 3505, LastVolume: 20},
		{Datetime: at(59, 59), LastPrice: 3498, LastVolume: 30},
	}
	for _, tick := range ticks {
		k.Apply(tick)
	}

	if k.Open != 3500 {
		t.Errorf("open = %v, want 3500", k.Open)
	}
	if k.High != 3505 {
		t.Errorf("high = %v, want 3505", k.High)
	}
	if k.Low != 3498 {
		t.Errorf("low = %v, want 3498", k.Low)
	}
	if k.Close != 3498 {
		t.Errorf("close = %v, want 3498", k.Close)
	}
	if k.Volume != 50 {
		t.Errorf("volume = %d, want 50", k.Volume)
	}
	if !k.OpenDatetime.Equal(at(0, 0)) || !k.CloseDatetime.Equal(at(59, 59)) {
		t.Errorf("OC datetimes = %s/%s", k.OpenDatetime, k.CloseDatetime)
	}
}

func TestKLineApplyOutOfOrder(t *testing.T) {
	bucket := time.Date(2024, 5, 15, 22, 0, 0, 0, time.Local)
	k := NewKLine(bucket)

	mid := &Tick{Datetime: time.Date(2024, 5, 15, 21, 30, 0, 0, time.Local), LastPrice: 3505, LastVolume: 20}
	early := &Tick{Datetime: time.Date(2024, 5, 15, 21, 0, 0, 0, time.Local), LastPrice: 3500, LastVolume: 10}
	k.Apply(mid)
	k.Apply(early)

	// The earlier tick takes over the open but not the close.
	if k.Open != 3500 {
		t.Errorf("open = %v, want 3500", k.Open)
	}
	if k.Close != 3505 {
		t.Errorf("close = %v, want 3505", k.Close)
	}
}
