package crypto

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix defines the human-readable part used when encoding addresses.
type AddressPrefix string

const (
	// AccountPrefix tags externally owned accounts.
	AccountPrefix AddressPrefix = "cdp"
	// ModulePrefix tags engine-owned custody accounts.
	ModulePrefix AddressPrefix = "cdpmod"
)

// AddressLength is the raw byte length of every address.
const AddressLength = 20

// Address represents a 20-byte account identifier with a bech32 prefix. The
// value is comparable so it can key maps directly.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from raw bytes. It panics when b is not
// exactly 20 bytes long.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := newAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// MustNewAddress is an alias of NewAddress kept for call sites that want the
// panic to be explicit.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	return NewAddress(prefix, b)
}

func newAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr, nil
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether every address byte is zero.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// MarshalText encodes the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address.
func (a *Address) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 encoded address.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return newAddress(AddressPrefix(prefix), conv)
}

// Compare orders addresses by prefix and then by raw bytes.
func (a Address) Compare(b Address) int {
	if a.prefix != b.prefix {
		if a.prefix < b.prefix {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.bytes[:], b.bytes[:])
}
