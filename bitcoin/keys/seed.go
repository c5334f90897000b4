// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// SeedSize defines seed size in bytes.
const SeedSize = 32

// Seed is an opaque 32-byte secret the key hierarchy is derived from.
// It must be a valid secp256k1 secret, i.e. in range [1, N-1].
type Seed [SeedSize]byte

// NewSeed generates fresh seed from cryptographic random source.
func NewSeed() (Seed, error) {
	var seed Seed
	for {
		if _, err := rand.Read(seed[:]); err != nil {
			return Seed{}, err
		}

		if seed.validate() == nil {
			return seed, nil
		}
	}
}

// ParseSeed parses 64-character hex string into Seed.
// Empty string means that fresh seed has to be generated.
func ParseSeed(hexSeed string) (Seed, error) {
	if hexSeed == "" {
		return NewSeed()
	}

	raw, err := hex.DecodeString(hexSeed)
	if err != nil {
		return Seed{}, errors.Join(bitcoin.ErrInvalidKey, err)
	}
	if len(raw) != SeedSize {
		return Seed{}, errors.Join(bitcoin.ErrInvalidKey, errors.New("seed must be 32 bytes"))
	}

	var seed Seed
	copy(seed[:], raw)

	return seed, seed.validate()
}

// MustParseSeed uses ParseSeed, panics in case of error.
func MustParseSeed(hexSeed string) Seed {
	seed, err := ParseSeed(hexSeed)
	if err != nil {
		panic(err)
	}

	return seed
}

// validate returns ErrInvalidKey if seed is zero or not less than the curve order.
func (s Seed) validate() error {
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(s[:]); overflow {
		return errors.Join(bitcoin.ErrInvalidKey, errors.New("seed is out of range"))
	}
	if scalar.IsZero() {
		return errors.Join(bitcoin.ErrInvalidKey, errors.New("seed is zero"))
	}

	return nil
}
