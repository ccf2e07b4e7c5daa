package crypto

import (
	"strings"

	"lukechampine.com/blake3"
)

// ModuleAddress derives the deterministic account owned by a native module.
// The address is the leading 20 bytes of the BLAKE3 digest of "module/<name>".
func ModuleAddress(name string) Address {
	digest := blake3.Sum256([]byte("module/" + strings.ToLower(strings.TrimSpace(name))))
	return NewAddress(ModulePrefix, digest[:AddressLength])
}
