package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a spending account. The zero value means "no account".
type Address common.Address

// ParseAddress decodes a 0x-prefixed hex account. Mixed-case input must
// carry a valid EIP-55 checksum; all-lower or all-upper input is accepted as is.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Address{}, fmt.Errorf("address %q: missing 0x prefix", s)
	}
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("address %q: expected 40 hex digits", s)
	}
	a := Address(common.HexToAddress(s))

	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && a.String()[2:] != body {
		return Address{}, fmt.Errorf("address %q: bad checksum", s)
	}
	return a, nil
}

// IsZero reports whether a is the empty account.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the EIP-55 checksummed form.
func (a Address) String() string {
	return common.Address(a).Hex()
}

// MarshalText implements encoding.TextMarshaler. Unlike common.Address,
// the checksummed form is emitted.
func (a Address) MarshalText() ([]byte, error) {
	if a.IsZero() {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
