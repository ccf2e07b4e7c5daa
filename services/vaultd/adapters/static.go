package adapters

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	nativeoracle "cdpchain/native/oracle"
	"cdpchain/services/vaultd/oracle"
)

// Static reports a fixed price stamped with the current time. It is used as a
// fallback feed and in development deployments.
type Static struct {
	name  string
	price *uint256.Int
	now   func() time.Time
}

// NewStatic parses the decimal price once at construction.
func NewStatic(name, price string, now func() time.Time) (*Static, error) {
	parsed, err := nativeoracle.ParseDecimal(price)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Static{name: name, price: parsed, now: now}, nil
}

func (s *Static) Name() string { return s.name }

func (s *Static) Fetch(ctx context.Context, base, quote string) (oracle.Quote, error) {
	if err := ctx.Err(); err != nil {
		return oracle.Quote{}, err
	}
	return oracle.Quote{Price: new(uint256.Int).Set(s.price), Timestamp: s.now()}, nil
}
