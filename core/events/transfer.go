package events

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

const (
	// TypeTokenTransfer is emitted for debt token balance movements. Mints use
	// the zero address as sender and burns use it as recipient.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenApproval is emitted whenever an allowance is set.
	TypeTokenApproval = "token.approval"
	// TypeCollateralTransfer is emitted when the collateral bank moves funds in
	// or out of engine custody.
	TypeCollateralTransfer = "collateral.transfer"

	// DirectionIn marks collateral moving into custody.
	DirectionIn = "in"
	// DirectionOut marks collateral leaving custody.
	DirectionOut = "out"
)

// TokenTransfer records a debt token movement.
type TokenTransfer struct {
	Token  string
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *Record {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	return &Record{Type: TypeTokenTransfer, Attributes: attrs}
}

// TokenApproval records an allowance update.
type TokenApproval struct {
	Token   string
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *uint256.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *Record {
	attrs := map[string]string{
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	return &Record{Type: TypeTokenApproval, Attributes: attrs}
}

// CollateralTransfer records a collateral movement through the bank.
type CollateralTransfer struct {
	Asset     string
	Account   crypto.Address
	Direction string
	Amount    *uint256.Int
}

func (CollateralTransfer) EventType() string { return TypeCollateralTransfer }

func (e CollateralTransfer) Event() *Record {
	attrs := map[string]string{
		"account":   formatAddress(e.Account),
		"direction": e.Direction,
		"amount":    formatAmount(e.Amount),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &Record{Type: TypeCollateralTransfer, Attributes: attrs}
}
