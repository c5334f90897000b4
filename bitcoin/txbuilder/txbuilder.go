// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

const (
	// TxVersion defines transaction version for this builder.
	TxVersion int32 = 2
	// txLockTime defines transaction lock time for this builder.
	txLockTime uint32 = 0

	// DefaultDustLimit defines the smallest change amount in satoshi worth an output.
	DefaultDustLimit btcutil.Amount = 546

	// headerSizeVBytes defined rough tx header size in vBytes.
	headerSizeVBytes int64 = 11
	// inputSizeVBytes defined rough tx input size in vBytes.
	inputSizeVBytes int64 = 90
	// outputSizeVBytes defined rough tx output size in vBytes.
	outputSizeVBytes int64 = 30
)

// CreateTxParams describes data needed to build unsigned transaction.
type CreateTxParams struct {
	Outputs []*OutputDescriptor // receiver outputs in lock order.
	Inputs  []*wire.TxIn        // inputs in provider order.
	Balance btcutil.Amount      // total value of inputs.
	Fee     btcutil.Amount      // fee reserve.
}

// UnsignedTx is a create-tx stage result.
type UnsignedTx struct {
	Tx      *wire.MsgTx
	Outputs []*OutputDescriptor // descriptors of Tx outputs, index-aligned, change included.
	Fee     btcutil.Amount      // actual miner fee, includes change folded as dust.
}

// CreateTxFunc turns output descriptors and funding inputs into unsigned transaction.
type CreateTxFunc func(params CreateTxParams) (*UnsignedTx, error)

// SingleOutput returns create-tx function paying whole balance except fee to the only receiver.
// Receiver amount has to exceed DefaultDustLimit.
//
//	outputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│       0 │ receiver     │ balance - fee.                         │
//	└─────────┴──────────────┴────────────────────────────────────────┘
func SingleOutput() CreateTxFunc {
	return func(params CreateTxParams) (*UnsignedTx, error) {
		if len(params.Outputs) != 1 {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("single output expects one receiver, got %d", len(params.Outputs)))
		}

		amount := params.Balance - params.Fee
		if amount <= DefaultDustLimit {
			return nil, NewInsufficientError(params.Fee+DefaultDustLimit+1, params.Balance)
		}

		unsigned := newUnsignedTx(params.Inputs, params.Fee)
		addOutput(unsigned, amount, params.Outputs[0])

		return unsigned, nil
	}
}

// PayAndChange returns create-tx function paying amount to the only receiver and the remainder
// to the change output built by change locks. Remainder not greater than dust is left to miners.
// Zero dust means DefaultDustLimit.
//
//	outputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│       0 │ receiver     │ mandatory, requested amount.           │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│       1 │ change       │ optional, balance - amount - fee when  │
//	│         │              │ it exceeds dust limit.                 │
//	└─────────┴──────────────┴────────────────────────────────────────┘
func PayAndChange(amount btcutil.Amount, change []LockOp, dust btcutil.Amount) CreateTxFunc {
	if dust == 0 {
		dust = DefaultDustLimit
	}

	return func(params CreateTxParams) (*UnsignedTx, error) {
		if len(params.Outputs) != 1 {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("pay and change expects one receiver, got %d", len(params.Outputs)))
		}
		if amount <= 0 {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("amount must be positive"))
		}

		need := amount + params.Fee
		if params.Balance < need {
			return nil, NewInsufficientError(need, params.Balance)
		}

		unsigned := newUnsignedTx(params.Inputs, params.Fee)
		addOutput(unsigned, amount, params.Outputs[0])

		remainder := params.Balance - need
		if remainder <= dust {
			unsigned.Fee += remainder
			return unsigned, nil
		}

		changeOutput, err := ApplyLocks(change...)
		if err != nil {
			return nil, err
		}

		addOutput(unsigned, remainder, changeOutput)

		return unsigned, nil
	}
}

// RoughTxSizeEstimate returns Tx rough estimated size in vBytes.
// TODO: increase precision with per-schema input weights.
func RoughTxSizeEstimate(inputs, outputs int) int64 {
	return headerSizeVBytes + inputSizeVBytes*int64(inputs) + outputSizeVBytes*int64(outputs)
}

// newUnsignedTx creates transaction spending inputs with empty script sigs and witnesses.
func newUnsignedTx(inputs []*wire.TxIn, fee btcutil.Amount) *UnsignedTx {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = txLockTime
	for _, in := range inputs {
		outPoint := in.PreviousOutPoint
		txIn := wire.NewTxIn(&outPoint, nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)
	}

	return &UnsignedTx{Tx: tx, Fee: fee}
}

// addOutput appends output locked by descriptor witness script.
func addOutput(unsigned *UnsignedTx, amount btcutil.Amount, descriptor *OutputDescriptor) {
	unsigned.Tx.AddTxOut(wire.NewTxOut(int64(amount), descriptor.WitnessScript))
	unsigned.Outputs = append(unsigned.Outputs, descriptor)
}
