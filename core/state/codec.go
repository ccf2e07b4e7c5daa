package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"cdpchain/storage"
)

// EncodeAmount rlp-encodes a 256-bit amount. Nil encodes as zero.
func EncodeAmount(v *uint256.Int) ([]byte, error) {
	if v == nil {
		v = new(uint256.Int)
	}
	return rlp.EncodeToBytes(v.ToBig())
}

// DecodeAmount reverses EncodeAmount.
func DecodeAmount(data []byte) (*uint256.Int, error) {
	var raw big.Int
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, err
	}
	return AmountFromBig(&raw)
}

// AmountFromBig converts a decoded integer, rejecting values outside 256 bits.
func AmountFromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("state: negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: amount %s exceeds 256 bits", v)
	}
	return out, nil
}

// PutAmount stages amount under key, deleting the key when the amount is zero.
func PutAmount(batch storage.Batch, key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		batch.Delete(key)
		return nil
	}
	encoded, err := EncodeAmount(amount)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

// PutRecord stages the rlp encoding of value under key.
func PutRecord(batch storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

// GetRecord decodes the value stored under key into out and reports whether
// the key existed.
func GetRecord(db storage.Database, key []byte, out interface{}) (bool, error) {
	data, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := DecodeRecord(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// DecodeRecord decodes an rlp-encoded record into out.
func DecodeRecord(data []byte, out interface{}) error {
	return rlp.DecodeBytes(data, out)
}
