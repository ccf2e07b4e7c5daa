package oracle

import (
	"context"
	"fmt"

	"cdpchain/crypto"
	nativeoracle "cdpchain/native/oracle"
)

// FeedPublisher writes aggregated medians into the on-ledger price feed. When
// Atomic is set the update runs inside it so that it serialises with vault
// operations and its notification is released through the same buffer.
type FeedPublisher struct {
	Feed   *nativeoracle.Feed
	Owner  crypto.Address
	Atomic func(func() error) error
}

// PublishPrice implements Publisher.
func (p *FeedPublisher) PublishPrice(ctx context.Context, update Update) error {
	if p == nil || p.Feed == nil {
		return fmt.Errorf("price feed not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	source := "median:" + update.ProofID
	set := func() error {
		return p.Feed.SetPrice(p.Owner, update.Price, source)
	}
	if p.Atomic == nil {
		return set()
	}
	return p.Atomic(set)
}
