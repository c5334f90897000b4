// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// Provider is a source of chain data for one transaction construction call.
//
// Implementations must return a consistent snapshot: PrevInputs and ContractSource
// are index-aligned and outputs referenced by PrevInputs sum up to ScriptBalance.
type Provider interface {
	// PrevInputs returns unsigned inputs spending every output the caller controls.
	PrevInputs(ctx context.Context) ([]*wire.TxIn, error)
	// ContractSource returns previous transactions of PrevInputs in the same order.
	ContractSource(ctx context.Context) ([]*wire.MsgTx, error)
	// ScriptBalance returns confirmed total of the caller-controlled outputs.
	ScriptBalance(ctx context.Context) (btcutil.Amount, error)
	// Fee returns amount to reserve from the balance for the miner fee.
	Fee(ctx context.Context) (btcutil.Amount, error)
	// BroadcastTransaction submits finalised transaction, returns its txid.
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// Snapshot is a consistent view of the provider data.
type Snapshot struct {
	Inputs  []*wire.TxIn
	PrevTxs []*wire.MsgTx
	Balance btcutil.Amount
	Fee     btcutil.Amount
}

// LoadSnapshot queries provider and checks returned data consistency.
func LoadSnapshot(ctx context.Context, provider Provider) (*Snapshot, error) {
	inputs, err := provider.PrevInputs(ctx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	prevTxs, err := provider.ContractSource(ctx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	balance, err := provider.ScriptBalance(ctx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	fee, err := provider.Fee(ctx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}
	if fee < 0 {
		return nil, errors.Join(bitcoin.ErrProvider, errors.New("negative fee"))
	}

	if err = CheckSnapshot(inputs, prevTxs, balance); err != nil {
		return nil, err
	}

	return &Snapshot{
		Inputs:  inputs,
		PrevTxs: prevTxs,
		Balance: balance,
		Fee:     fee,
	}, nil
}

// CheckSnapshot returns ErrProvider if inputs and previous transactions are not aligned
// or referenced outputs do not sum up to the balance.
func CheckSnapshot(inputs []*wire.TxIn, prevTxs []*wire.MsgTx, balance btcutil.Amount) error {
	if len(inputs) != len(prevTxs) {
		return errors.Join(bitcoin.ErrProvider, fmt.Errorf("got %d inputs and %d previous transactions", len(inputs), len(prevTxs)))
	}

	prevOuts, err := PrevOutputs(inputs, prevTxs)
	if err != nil {
		return err
	}

	var total btcutil.Amount
	for _, prevOut := range prevOuts {
		total += btcutil.Amount(prevOut.Value)
	}
	if total != balance {
		return errors.Join(bitcoin.ErrProvider, fmt.Errorf("inputs total %s does not match balance %s", total, balance))
	}

	return nil
}

// PrevOutputs returns outputs referenced by inputs, previous transactions must be index-aligned with inputs.
func PrevOutputs(inputs []*wire.TxIn, prevTxs []*wire.MsgTx) ([]*wire.TxOut, error) {
	if len(inputs) != len(prevTxs) {
		return nil, errors.Join(bitcoin.ErrProvider, errors.New("inputs and previous transactions are not aligned"))
	}

	prevOuts := make([]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		prevTx := prevTxs[i]
		if prevTx == nil {
			return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("missing previous transaction of input %d", i))
		}

		outPoint := in.PreviousOutPoint
		if prevTx.TxHash() != outPoint.Hash {
			return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("input %d references %s, got transaction %s", i, outPoint.Hash, prevTx.TxHash()))
		}
		if int(outPoint.Index) >= len(prevTx.TxOut) {
			return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("input %d references missing output %d", i, outPoint.Index))
		}

		prevOuts[i] = prevTx.TxOut[outPoint.Index]
	}

	return prevOuts, nil
}

// PrevOutputs returns outputs spent by the snapshot inputs.
func (s *Snapshot) PrevOutputs() ([]*wire.TxOut, error) {
	return PrevOutputs(s.Inputs, s.PrevTxs)
}

// UTXOs returns snapshot inputs described as unspent outputs.
func (s *Snapshot) UTXOs() ([]bitcoin.UTXO, error) {
	prevOuts, err := s.PrevOutputs()
	if err != nil {
		return nil, err
	}

	utxos := make([]bitcoin.UTXO, len(prevOuts))
	for i, prevOut := range prevOuts {
		utxos[i] = bitcoin.UTXO{
			TxHash: s.Inputs[i].PreviousOutPoint.Hash,
			Index:  s.Inputs[i].PreviousOutPoint.Index,
			Amount: btcutil.Amount(prevOut.Value),
			Script: prevOut.PkScript,
		}
	}

	return utxos, nil
}
