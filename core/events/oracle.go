package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// TypePriceUpdated is emitted whenever the collateral price feed is updated.
const TypePriceUpdated = "oracle.price_updated"

// PriceUpdated captures a new collateral price observation.
type PriceUpdated struct {
	Price     *uint256.Int
	UpdatedAt time.Time
	Source    string
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *Record {
	attrs := map[string]string{
		"price":     formatAmount(e.Price),
		"updatedAt": strconv.FormatInt(e.UpdatedAt.Unix(), 10),
	}
	if source := strings.TrimSpace(e.Source); source != "" {
		attrs["source"] = source
	}
	return &Record{Type: TypePriceUpdated, Attributes: attrs}
}
