// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"errors"
)

// ErrInvalidKey defines that a seed or a derived child can not be used as a secp256k1 secret.
var ErrInvalidKey = errors.New("invalid key")

// ErrInsufficientFunds defines that the balance does not cover requested amount and fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvariantViolation defines that a lock/unlock composition used a field before it was populated.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrInvalidCommitment defines that a taproot control block does not commit to the output key.
var ErrInvalidCommitment = errors.New("invalid taproot commitment")

// ErrSighash defines that a signature hash could not be computed for the input.
var ErrSighash = errors.New("sighash computation failed")

// ErrFinalisation defines that a partially signed transaction could not be finalised.
var ErrFinalisation = errors.New("finalisation failed")

// ErrProvider defines any failure surfaced by the chain-data provider, including broadcast rejection.
var ErrProvider = errors.New("chain-data provider failure")

// ErrUnknownNetwork defines that network name is not one of mainnet, testnet, signet or regtest.
var ErrUnknownNetwork = errors.New("unknown network")
