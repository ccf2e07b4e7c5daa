package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// PriceDecimals is the number of fractional digits carried by feed prices.
const PriceDecimals = 18

var (
	ErrNotOwner     = errors.New("price feed: caller is not the owner")
	ErrInvalidPrice = errors.New("price feed: price must be positive")
)

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

// Feed is an owner-updated collateral price scaled by 10^18. Freshness is
// judged against the feed's own last update time.
type Feed struct {
	mu        sync.RWMutex
	owner     crypto.Address
	price     *uint256.Int
	updatedAt time.Time
	source    string
	now       func() time.Time
	emitter   events.Emitter
}

// NewFeed constructs an unset feed. Until the first update the price is zero
// and the feed is never fresh.
func NewFeed(owner crypto.Address) *Feed {
	return &Feed{
		owner:   owner,
		price:   new(uint256.Int),
		now:     time.Now,
		emitter: events.NoopEmitter{},
	}
}

// SetClock overrides the time source. Intended for tests and simulations.
func (f *Feed) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// SetEmitter wires the sink receiving price updates.
func (f *Feed) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.mu.Lock()
	f.emitter = emitter
	f.mu.Unlock()
}

// Owner returns the account allowed to publish prices.
func (f *Feed) Owner() crypto.Address { return f.owner }

// SetPrice records a new price observed now.
func (f *Feed) SetPrice(caller crypto.Address, price *uint256.Int, source string) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	f.price = new(uint256.Int).Set(price)
	f.updatedAt = f.now()
	f.source = strings.TrimSpace(source)
	evt := events.PriceUpdated{Price: new(uint256.Int).Set(price), UpdatedAt: f.updatedAt, Source: f.source}
	emitter := f.emitter
	f.mu.Unlock()

	emitter.Emit(evt)
	return nil
}

// SetDecimal parses a decimal rate such as "2000.5" and records it.
func (f *Feed) SetDecimal(caller crypto.Address, rate, source string) error {
	price, err := ParseDecimal(rate)
	if err != nil {
		return err
	}
	return f.SetPrice(caller, price, source)
}

// LatestPrice returns the most recent price.
func (f *Feed) LatestPrice() *uint256.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(uint256.Int).Set(f.price)
}

// UpdatedAt returns the time of the last update.
func (f *Feed) UpdatedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updatedAt
}

// Source returns the label supplied with the last update.
func (f *Feed) Source() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.source
}

// IsFresh reports whether the last update happened within maxAge. A feed that
// has never been updated is stale.
func (f *Feed) IsFresh(maxAge time.Duration) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price.IsZero() || f.updatedAt.IsZero() {
		return false
	}
	return f.now().Sub(f.updatedAt) <= maxAge
}

// ParseDecimal converts a positive decimal string into an 18-decimal fixed
// point value. Digits beyond the 18th fractional place are truncated.
func ParseDecimal(rate string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: rate required", ErrInvalidPrice)
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rate %q", ErrInvalidPrice, rate)
	}
	return FromRat(rat)
}

// FromRat converts a rational rate into an 18-decimal fixed point value.
func FromRat(rate *big.Rat) (*uint256.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	scaled := new(big.Int).Mul(rate.Num(), priceScale)
	scaled.Quo(scaled, rate.Denom())
	if scaled.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate below feed precision", ErrInvalidPrice)
	}
	out, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("%w: rate out of range", ErrInvalidPrice)
	}
	return out, nil
}

// FormatDecimal renders an 18-decimal fixed point value as a decimal string.
func FormatDecimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(v.ToBig(), priceScale).FloatString(PriceDecimals)
}
