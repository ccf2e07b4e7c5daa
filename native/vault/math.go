package vault

import "github.com/holiman/uint256"

var (
	// Precision is the fixed point scale applied to prices (10^18).
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	hundred    = uint256.NewInt(100)
	maxUint256 = new(uint256.Int).SetAllOne()
)

// MaxRatio is the ratio reported for vaults without debt.
func MaxRatio() *uint256.Int {
	return new(uint256.Int).Set(maxUint256)
}

// mulDiv returns x*y/d with a 512-bit intermediate, failing when the result
// does not fit in 256 bits.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrArithmetic
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrArithmetic
	}
	return out, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrArithmetic
	}
	return out, nil
}

func sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrArithmetic
	}
	return out, nil
}

func percent(x *uint256.Int, pct uint64) (*uint256.Int, error) {
	return mulDiv(x, uint256.NewInt(pct), hundred)
}

// collateralValue converts a collateral amount into debt token units.
func collateralValue(collateral, price *uint256.Int) (*uint256.Int, error) {
	return mulDiv(collateral, price, Precision)
}

// ratioOf returns value*100/debt, or MaxRatio when debt is zero.
func ratioOf(value, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxRatio(), nil
	}
	return mulDiv(value, hundred, debt)
}

// meetsRatio reports value*100 >= debt*ratio.
func meetsRatio(value, debt *uint256.Int, ratio uint64) (bool, error) {
	if debt.IsZero() {
		return true, nil
	}
	lhs, overflow := new(uint256.Int).MulOverflow(value, hundred)
	if overflow {
		// value*100 exceeds every representable debt*ratio product.
		return true, nil
	}
	rhs, overflow := new(uint256.Int).MulOverflow(debt, uint256.NewInt(ratio))
	if overflow {
		return false, ErrArithmetic
	}
	return !lhs.Lt(rhs), nil
}

// requiredCollateral returns the collateral needed to back debt at ratio:
// (debt*ratio/100)*Precision/price.
func requiredCollateral(debt *uint256.Int, ratio uint64, price *uint256.Int) (*uint256.Int, error) {
	requiredValue, err := percent(debt, ratio)
	if err != nil {
		return nil, err
	}
	return mulDiv(requiredValue, Precision, price)
}
