package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	nativeoracle "cdpchain/native/oracle"
	"cdpchain/observability"
	"cdpchain/services/vaultd/storage"
)

// ErrInsufficientFeeds is returned when fewer than the configured minimum of
// sources produced an acceptable quote in a tick.
var ErrInsufficientFeeds = errors.New("insufficient oracle feeds")

// Quote is a price observed by a single source, scaled by 10^18.
type Quote struct {
	Price     *uint256.Int
	Timestamp time.Time
}

// Source resolves the collateral price for a base/quote pair.
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (Quote, error)
}

// Publisher pushes an aggregated price to its consumer.
type Publisher interface {
	PublishPrice(ctx context.Context, update Update) error
}

// Update models an aggregated median ready for publication.
type Update struct {
	Pair    string
	Price   *uint256.Int
	Feeders []string
	ProofID string
	Time    time.Time
}

// Pair identifies a base/quote pair.
type Pair struct {
	Base  string
	Quote string
}

// Settings tunes the aggregation window.
type Settings struct {
	Interval  time.Duration
	MaxAge    time.Duration
	MaxFuture time.Duration
	MinFeeds  int
	// Retention bounds how long raw samples are kept. Zero keeps them all.
	Retention time.Duration
}

// Manager orchestrates periodic aggregation across configured sources.
type Manager struct {
	logger    *slog.Logger
	storage   *storage.Storage
	sources   []Source
	pair      Pair
	settings  Settings
	publisher Publisher
	metrics   *observability.OracleMetrics
	now       func() time.Time
	once      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPublisher overrides the default publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics records tick outcomes on the supplied registry.
func WithMetrics(metrics *observability.OracleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// New constructs a manager instance.
func New(store *storage.Storage, sources []Source, pair Pair, settings Settings, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if strings.TrimSpace(pair.Base) == "" || strings.TrimSpace(pair.Quote) == "" {
		return nil, fmt.Errorf("invalid pair configuration")
	}
	if settings.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if settings.MaxAge <= 0 {
		settings.MaxAge = time.Minute
	}
	if settings.MaxFuture <= 0 {
		settings.MaxFuture = 5 * time.Second
	}
	if settings.MinFeeds <= 0 {
		settings.MinFeeds = 1
	}
	mgr := &Manager{
		logger:   slog.Default(),
		storage:  store,
		sources:  append([]Source{}, sources...),
		pair:     pair,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.publisher == nil {
		mgr.publisher = PublisherFunc(func(context.Context, Update) error { return nil })
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started", "sources", len(m.sources), "pair", storage.PairKey(m.pair.Base, m.pair.Quote))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle and publishes the median.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	update, err := m.aggregate(ctx)
	if err == nil {
		err = m.publisher.PublishPrice(ctx, update)
		if err != nil {
			err = fmt.Errorf("publish update: %w", err)
		}
	}
	m.metrics.RecordTick(err)
	if err == nil {
		m.prune(ctx)
	}
	return err
}

func (m *Manager) prune(ctx context.Context) {
	if m.settings.Retention <= 0 {
		return
	}
	removed, err := m.storage.PruneSamples(ctx, m.now().Add(-m.settings.Retention))
	if err != nil {
		m.logger.Warn("prune oracle samples", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Debug("pruned oracle samples", "removed", removed)
	}
}

func (m *Manager) aggregate(ctx context.Context) (Update, error) {
	base := strings.ToUpper(strings.TrimSpace(m.pair.Base))
	quote := strings.ToUpper(strings.TrimSpace(m.pair.Quote))
	pair := storage.PairKey(base, quote)
	now := m.now()
	prices := make([]*uint256.Int, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	oldest := now
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		name := src.Name()
		q, err := src.Fetch(ctx, base, quote)
		if err != nil {
			m.drop(name, "fetch", "error", err)
			continue
		}
		if q.Price == nil || q.Price.IsZero() {
			m.drop(name, "invalid")
			continue
		}
		if q.Timestamp.After(now.Add(m.settings.MaxFuture)) {
			m.drop(name, "future", "timestamp", q.Timestamp)
			continue
		}
		if q.Timestamp.Before(now.Add(-m.settings.MaxAge)) {
			m.drop(name, "expired", "timestamp", q.Timestamp)
			continue
		}
		feeders = append(feeders, name)
		prices = append(prices, new(uint256.Int).Set(q.Price))
		if q.Timestamp.Before(oldest) {
			oldest = q.Timestamp
		}
		sample := storage.Sample{Source: name, Price: nativeoracle.FormatDecimal(q.Price), ObservedAt: q.Timestamp, RecordedAt: now}
		if err := m.storage.RecordSample(ctx, pair, sample); err != nil {
			m.logger.Warn("record oracle sample", "source", name, "error", err)
		}
	}
	if len(prices) < m.settings.MinFeeds {
		return Update{}, fmt.Errorf("%w for %s: %d of %d", ErrInsufficientFeeds, pair, len(prices), m.settings.MinFeeds)
	}
	median := computeMedian(prices)
	if median == nil || median.IsZero() {
		return Update{}, fmt.Errorf("median computation failed for %s", pair)
	}
	proof := proofID(pair, median, feeders, now)
	snap := storage.Snapshot{
		Pair:       pair,
		Median:     nativeoracle.FormatDecimal(median),
		Feeders:    feeders,
		ProofID:    proof,
		ObservedAt: now,
		RecordedAt: now,
	}
	if err := m.storage.RecordSnapshot(ctx, snap); err != nil {
		return Update{}, fmt.Errorf("record snapshot: %w", err)
	}
	m.metrics.RecordPublish(median, now.Sub(oldest))
	return Update{Pair: pair, Price: median, Feeders: feeders, ProofID: proof, Time: now}, nil
}

func (m *Manager) drop(source, reason string, attrs ...any) {
	m.metrics.RecordDropped(source, reason)
	m.logger.Warn("oracle quote dropped", append([]any{"source", source, "reason", reason}, attrs...)...)
}

// computeMedian returns the middle price, averaging the two central values
// of an even-sized set with truncation.
func computeMedian(prices []*uint256.Int) *uint256.Int {
	if len(prices) == 0 {
		return nil
	}
	sorted := make([]*uint256.Int, 0, len(prices))
	for _, p := range prices {
		if p != nil {
			sorted = append(sorted, p)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Lt(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(uint256.Int).Set(sorted[mid])
	}
	// (a+b)/2 without overflow: a/2 + b/2 + (a%2 + b%2)/2.
	two := uint256.NewInt(2)
	a, b := sorted[mid-1], sorted[mid]
	out := new(uint256.Int).Div(a, two)
	out.Add(out, new(uint256.Int).Div(b, two))
	carry := new(uint256.Int).Add(new(uint256.Int).Mod(a, two), new(uint256.Int).Mod(b, two))
	return out.Add(out, carry.Div(carry, two))
}

func proofID(pair string, median *uint256.Int, feeders []string, ts time.Time) string {
	digest := blake3.New(32, nil)
	digest.Write([]byte(pair))
	digest.Write([]byte("|"))
	digest.Write([]byte(median.Dec()))
	digest.Write([]byte("|"))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, f := range sorted {
		digest.Write([]byte("|"))
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// PublisherFunc adapts ordinary functions to Publisher.
type PublisherFunc func(ctx context.Context, update Update) error

// PublishPrice implements Publisher.
func (f PublisherFunc) PublishPrice(ctx context.Context, update Update) error {
	if f == nil {
		return nil
	}
	return f(ctx, update)
}
