package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cdpchain/core/events"
	"cdpchain/services/vaultd/storage"
)

// accountKeys are the attributes consulted, in order, to associate an event
// with an account for filtering.
var accountKeys = []string{"account", "owner", "from"}

// Indexer persists notifications delivered by the event bus.
type Indexer struct {
	store  *storage.Storage
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) {
		if now != nil {
			ix.now = now
		}
	}
}

// New constructs an indexer writing to store.
func New(store *storage.Storage, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	ix := &Indexer{
		store:  store,
		logger: slog.Default(),
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix, nil
}

// Record renders and stores a single event.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) (storage.EventRecord, error) {
	rendered := events.Render(evt)
	if rendered == nil {
		return storage.EventRecord{}, fmt.Errorf("nil event")
	}
	rec := storage.EventRecord{
		ID:         ix.newID(),
		Type:       rendered.Type,
		Attributes: rendered.Attributes,
		RecordedAt: ix.now().UTC(),
	}
	for _, key := range accountKeys {
		if value := rendered.Attr(key); value != "" {
			rec.Account = value
			break
		}
	}
	seq, err := ix.store.RecordEvent(ctx, rec)
	if err != nil {
		return storage.EventRecord{}, err
	}
	rec.Seq = seq
	return rec, nil
}

// Run drains sub until the context is cancelled or the subscription closes.
// Storage failures are logged and do not stop the loop.
func (ix *Indexer) Run(ctx context.Context, sub *events.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription required")
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if _, err := ix.Record(ctx, evt); err != nil {
				ix.logger.Error("index event", "type", evt.EventType(), "error", err)
			}
		}
	}
}
