// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// InsufficientError is the error type to describe insufficient balance errors with details.
type InsufficientError struct {
	Need btcutil.Amount
	Have btcutil.Amount
}

// NewInsufficientError is a constructor for InsufficientError.
func NewInsufficientError(need, have btcutil.Amount) *InsufficientError {
	return &InsufficientError{Need: need, Have: have}
}

// Error returns error description.
func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%s: need %s, have %s", bitcoin.ErrInsufficientFunds, e.Need, e.Have)
}

// Is implements comparator method for [errors] package.
func (e *InsufficientError) Is(target error) bool {
	if target == bitcoin.ErrInsufficientFunds {
		return true
	}

	other, ok := target.(*InsufficientError)
	return ok && *other == *e
}
