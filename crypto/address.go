package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix marks end-user accounts (suppliers, borrowers, liquidators).
	AccountPrefix AddressPrefix = "acct"
	// MarketPrefix marks lending markets.
	MarketPrefix AddressPrefix = "mkt"
	// DistributorPrefix marks reward distributors.
	DistributorPrefix AddressPrefix = "dist"
	// ControllerPrefix marks market controllers and governance identities.
	ControllerPrefix AddressPrefix = "ctrl"
)

// AddressLength is the number of raw bytes in every address.
const AddressLength = 20

// Address represents a 20-byte address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Hex renders the raw bytes with a 0x prefix.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a.bytes)
}

// IsZero reports whether the address carries no bytes.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares the raw bytes; prefixes are presentation only.
func (a Address) Equal(other Address) bool {
	return len(a.bytes) > 0 && bytes.Equal(a.bytes, other.bytes)
}

// MarshalText renders the bech32 form so addresses embed cleanly in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseAddress accepts either a bech32 address or a 0x-prefixed hex string.
// Hex input is assigned the fallback prefix.
func ParseAddress(raw string, fallback AddressPrefix) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return NewAddress(fallback, common.HexToAddress(trimmed).Bytes()), nil
	}
	return DecodeAddress(strings.ToLower(trimmed))
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string, fallback AddressPrefix) Address {
	addr, err := ParseAddress(raw, fallback)
	if err != nil {
		panic(err)
	}
	return addr
}
