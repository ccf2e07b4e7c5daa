package vault

import (
	"math/big"

	"github.com/google/btree"

	"cdpchain/crypto"
)

const riskIndexDegree = 16

type riskItem struct {
	account    crypto.Address
	collateral *big.Int
	debt       *big.Int
}

// riskLess orders by collateral/debt ascending. For a single price this is
// the same order as the collateralisation ratio, so the index never needs
// rebuilding when the price moves.
func riskLess(a, b riskItem) bool {
	left := new(big.Int).Mul(a.collateral, b.debt)
	right := new(big.Int).Mul(b.collateral, a.debt)
	if cmp := left.Cmp(right); cmp != 0 {
		return cmp < 0
	}
	return a.account.Compare(b.account) < 0
}

type riskIndex struct {
	tree *btree.BTreeG[riskItem]
}

func newRiskIndex() *riskIndex {
	return &riskIndex{tree: btree.NewG[riskItem](riskIndexDegree, riskLess)}
}

func newRiskItem(account crypto.Address, v Vault) riskItem {
	return riskItem{
		account:    account,
		collateral: v.Collateral.ToBig(),
		debt:       v.Debt.ToBig(),
	}
}

func (r *riskIndex) insert(account crypto.Address, v Vault) {
	if v.Debt.IsZero() {
		return
	}
	r.tree.ReplaceOrInsert(newRiskItem(account, v))
}

func (r *riskIndex) remove(account crypto.Address, v Vault) {
	if v.Debt.IsZero() {
		return
	}
	r.tree.Delete(newRiskItem(account, v))
}

func (r *riskIndex) ascending(limit int) []crypto.Address {
	if limit <= 0 {
		return nil
	}
	out := make([]crypto.Address, 0, min(limit, r.tree.Len()))
	r.tree.Ascend(func(item riskItem) bool {
		out = append(out, item.account)
		return len(out) < limit
	})
	return out
}

func (r *riskIndex) size() int {
	return r.tree.Len()
}
