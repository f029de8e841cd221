// Package store persists ticks and K-lines to a document-style store and
// runs the asynchronous write pipeline in front of it.
//
// The store is organised as logical databases (one per K-line period,
// plus one for ticks) holding one collection per contract symbol. Every
// write is an upsert keyed by the document's datetime, so replays and
// retries are harmless.
package store

import (
	"context"
	"time"

	"klinerec/internal/domain"
)

// DocumentStore is the upsert contract the recorder needs from its
// backing store.
type DocumentStore interface {
	// UpsertTick inserts or replaces the tick keyed by its datetime.
	UpsertTick(ctx context.Context, db, collection string, t *domain.Tick) error

	// UpsertKline inserts or replaces the bar keyed by its bucket
	// datetime, including the open/close tick timestamps so a restarted
	// recorder can resume updating a still-open bar.
	UpsertKline(ctx context.Context, db, collection string, k *domain.KLine) error

	// FindLastKlines returns up to count bars strictly before the given
	// datetime, newest first.
	FindLastKlines(ctx context.Context, db, collection string, count int, before time.Time) ([]*domain.KLine, error)

	// Close releases the underlying connections.
	Close() error
}
