package store

import (
	"context"
	"log/slog"

	"klinerec/internal/domain"
)

// DefaultQueueSize bounds the writer's task queue. A full queue drops
// writes with a warning; the upsert-by-key contract means the next tick
// in the same bucket re-emits the document.
const DefaultQueueSize = 8192

type taskKind int

const (
	taskUpsertTick taskKind = iota
	taskUpsertKline
	taskStop
)

// task is one queued write. Payloads are private snapshots taken at
// enqueue time; the worker never shares memory with the tick path.
type task struct {
	kind       taskKind
	db         string
	collection string
	tick       *domain.Tick
	kline      *domain.KLine
}

// Writer is the asynchronous persistence worker: a single goroutine
// owning a store handle and serially executing queued upserts. Producers
// enqueue without blocking.
type Writer struct {
	store   DocumentStore
	tasks   chan task
	done    chan struct{}
	started bool
	log     *slog.Logger
}

// NewWriter creates a writer over the given store. Call Start to launch
// the worker goroutine and Stop to drain and shut it down.
func NewWriter(store DocumentStore, queueSize int, log *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		store: store,
		tasks: make(chan task, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Start launches the worker goroutine. Repeated calls are no-ops.
func (w *Writer) Start() {
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Stop enqueues the shutdown sentinel and waits for the worker to drain
// the queue and exit. In-flight tasks complete before return. Stop on a
// writer that was never started, or that already stopped, returns
// immediately.
func (w *Writer) Stop() {
	if !w.started {
		return
	}
	select {
	case w.tasks <- task{kind: taskStop}:
	case <-w.done:
		return
	}
	<-w.done
}

// UpsertTick queues a tick upsert. The tick is snapshotted; a full queue
// drops the write with a warning.
func (w *Writer) UpsertTick(db, collection string, t *domain.Tick) {
	snapshot := *t
	w.post(task{kind: taskUpsertTick, db: db, collection: collection, tick: &snapshot})
}

// UpsertKline queues a bar upsert. The bar is snapshotted; a full queue
// drops the write with a warning.
func (w *Writer) UpsertKline(db, collection string, k *domain.KLine) {
	snapshot := *k
	w.post(task{kind: taskUpsertKline, db: db, collection: collection, kline: &snapshot})
}

func (w *Writer) post(t task) {
	select {
	case w.tasks <- t:
	default:
		w.log.Warn("write queue full, dropping task",
			"db", t.db,
			"collection", t.collection,
		)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	ctx := context.Background()

	for t := range w.tasks {
		var err error
		switch t.kind {
		case taskUpsertTick:
			err = w.store.UpsertTick(ctx, t.db, t.collection, t.tick)
		case taskUpsertKline:
			err = w.store.UpsertKline(ctx, t.db, t.collection, t.kline)
		case taskStop:
			return
		}
		if err != nil {
			// Discard and continue: the upsert is idempotent and the next
			// tick in the same bucket re-emits the document.
			w.log.Error("persistence task failed",
				"db", t.db,
				"collection", t.collection,
				"error", err,
			)
		}
	}
}
