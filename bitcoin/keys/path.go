// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// ErrMalformedPath defines that derivation path string can not be parsed.
var ErrMalformedPath = errors.New("malformed derivation path")

const (
	// ExternalKeychain defines receive (external) keychain index.
	ExternalKeychain uint32 = 0
	// InternalKeychain defines change (internal) keychain index.
	InternalKeychain uint32 = 1

	// defaultAccount defines the only account used by the pipeline.
	defaultAccount uint32 = 0
)

// DerivationPath is an ordered sequence of child indexes,
// hardened ones are offset by hdkeychain.HardenedKeyStart.
type DerivationPath []uint32

// Hardened returns hardened child index.
func Hardened(index uint32) uint32 {
	return index + hdkeychain.HardenedKeyStart
}

// NewPath returns path m / purpose' / coinType' / 0' / keychain / index.
func NewPath(purpose, coinType, keychain, index uint32) DerivationPath {
	return DerivationPath{
		Hardened(purpose),
		Hardened(coinType),
		Hardened(defaultAccount),
		keychain,
		index,
	}
}

// ParseDerivationPath parses path in the m/84'/0'/0'/0/1 notation. Both ' and h mark hardened indexes.
func ParseDerivationPath(path string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, ErrMalformedPath
	}

	result := make(DerivationPath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		var hardened bool
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			hardened = true
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(index) >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, part)
		}

		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		result = append(result, uint32(index))
	}

	return result, nil
}

// String returns path in the m/84'/0'/0'/0/1 notation.
func (p DerivationPath) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, index := range p {
		sb.WriteString("/")
		if index >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(uint64(index-hdkeychain.HardenedKeyStart), 10))
			sb.WriteString("'")
			continue
		}

		sb.WriteString(strconv.FormatUint(uint64(index), 10))
	}

	return sb.String()
}

// Clone returns a copy of the path, so callers never share underlying array.
func (p DerivationPath) Clone() []uint32 {
	return append([]uint32(nil), p...)
}
