// Package archive appends completed bars to Parquet files for offline
// analysis, as a subscriber of the engine's bar-completion events.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"klinerec/internal/domain"
)

// BarRecord is the Parquet schema for archived bars.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	VtSymbol  string  `parquet:"vt_symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // bucket end, Unix ms
	Period    int32   `parquet:"period"`                           // minutes
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// fileKey addresses one on-disk Parquet file.
type fileKey struct {
	symbol string
	period domain.Period
	year   int
}

type item struct {
	period domain.Period
	bar    domain.KLine
}

// flushBatch is how many pending records a file accumulates before it is
// rewritten. Completion events are rare relative to ticks, so small
// batches keep the archive fresh without rewriting files on every bar.
const flushBatch = 64

// Archiver buffers completed bars and merges them into per-symbol,
// per-period, per-year Parquet files. Completion callbacks enqueue
// without blocking; the file I/O runs on the archiver's own goroutine.
type Archiver struct {
	dataDir string
	ch      chan item
	done    chan struct{}
	pending map[fileKey][]BarRecord
	log     *slog.Logger
}

// NewArchiver creates an archiver rooted at dataDir. Call Start to launch
// its goroutine and Stop to flush and shut down.
func NewArchiver(dataDir string, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		dataDir: dataDir,
		ch:      make(chan item, 1024),
		done:    make(chan struct{}),
		pending: make(map[fileKey][]BarRecord),
		log:     log,
	}
}

// Start launches the archive goroutine.
func (a *Archiver) Start() {
	go a.run()
}

// Stop flushes all pending records and waits for the goroutine to exit.
func (a *Archiver) Stop() {
	close(a.ch)
	<-a.done
}

// Callback returns a bar-completion callback for the given period,
// suitable for Engine.Subscribe. The bar is snapshotted; a full buffer
// drops the event with a warning (the persistent store still has the
// bar).
func (a *Archiver) Callback(period domain.Period) func(*domain.KLine) {
	return func(k *domain.KLine) {
		select {
		case a.ch <- item{period: period, bar: *k}:
		default:
			a.log.Warn("archive buffer full, dropping bar",
				"symbol", k.Symbol,
				"period", period.Minutes(),
			)
		}
	}
}

func (a *Archiver) run() {
	defer close(a.done)

	for it := range a.ch {
		key := fileKey{symbol: it.bar.Symbol, period: it.period, year: it.bar.Datetime.Year()}
		a.pending[key] = append(a.pending[key], BarRecord{
			Symbol:    it.bar.Symbol,
			VtSymbol:  it.bar.VtSymbol,
			Timestamp: it.bar.Datetime.UnixMilli(),
			Period:    int32(it.period.Minutes()),
			Open:      it.bar.Open,
			High:      it.bar.High,
			Low:       it.bar.Low,
			Close:     it.bar.Close,
			Volume:    it.bar.Volume,
		})
		if len(a.pending[key]) >= flushBatch {
			a.flush(key)
		}
	}

	for key := range a.pending {
		a.flush(key)
	}
}

// flush merges the pending records for one file into its existing
// contents and rewrites it.
func (a *Archiver) flush(key fileKey) {
	records := a.pending[key]
	if len(records) == 0 {
		return
	}
	delete(a.pending, key)

	path := a.barPath(key)
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		a.log.Error("writing bar archive",
			"path", path,
			"error", err,
		)
		return
	}
	a.log.Debug("bar archive written", "path", path, "records", len(merged))
}

// barPath returns the file path for an archive key.
// Layout: <dataDir>/klines/<period>/<SYMBOL>/<YYYY>.parquet
func (a *Archiver) barPath(key fileKey) string {
	periodDir := fmt.Sprintf("%dmin", key.period.Minutes())
	if key.period == domain.PeriodDaily {
		periodDir = "daily"
	}
	year := fmt.Sprintf("%d", key.year)
	return filepath.Join(a.dataDir, "klines", periodDir, strings.ToUpper(key.symbol), year+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates records by timestamp, preferring incoming
// over existing. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
