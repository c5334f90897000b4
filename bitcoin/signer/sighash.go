// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/chain"
)

// UnlockContext gives unlock operations access to PSBT and outputs spent by its inputs.
// Signature hashes commit to all previous outputs.
type UnlockContext struct {
	Packet *psbt.Packet

	prevTxs   []*wire.MsgTx
	prevOuts  []*wire.TxOut
	fetcher   *txscript.MultiPrevOutFetcher
	sigHashes *txscript.TxSigHashes
}

// NewUnlockContext creates unlock context from previous transactions, index-aligned with PSBT inputs.
func NewUnlockContext(packet *psbt.Packet, prevTxs []*wire.MsgTx) (*UnlockContext, error) {
	prevOuts, err := chain.PrevOutputs(packet.UnsignedTx.TxIn, prevTxs)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrSighash, err)
	}

	return newUnlockContext(packet, prevTxs, prevOuts)
}

// NewUnlockContextFromPacket creates unlock context from witness utxos already present in PSBT,
// used by co-signers which receive PSBT without previous transactions.
func NewUnlockContextFromPacket(packet *psbt.Packet) (*UnlockContext, error) {
	prevOuts := make([]*wire.TxOut, len(packet.Inputs))
	for i := range packet.Inputs {
		if packet.Inputs[i].WitnessUtxo == nil {
			return nil, errors.Join(bitcoin.ErrSighash, fmt.Errorf("input %d has no witness utxo", i))
		}

		prevOuts[i] = packet.Inputs[i].WitnessUtxo
	}

	return newUnlockContext(packet, nil, prevOuts)
}

// newUnlockContext builds previous outputs fetcher and signature hashes midstate.
func newUnlockContext(packet *psbt.Packet, prevTxs []*wire.MsgTx, prevOuts []*wire.TxOut) (*UnlockContext, error) {
	tx := packet.UnsignedTx
	if len(prevOuts) != len(tx.TxIn) || len(packet.Inputs) != len(tx.TxIn) {
		return nil, errors.Join(bitcoin.ErrSighash, errors.New("previous outputs are not aligned with inputs"))
	}

	prevOutputFetcherMap := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for idx, in := range tx.TxIn {
		if _, ok := prevOutputFetcherMap[in.PreviousOutPoint]; ok {
			return nil, errors.Join(bitcoin.ErrSighash, fmt.Errorf("input %d spends %v twice", idx, in.PreviousOutPoint))
		}

		prevOutputFetcherMap[in.PreviousOutPoint] = prevOuts[idx]
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOutputFetcherMap)

	return &UnlockContext{
		Packet:    packet,
		prevTxs:   prevTxs,
		prevOuts:  prevOuts,
		fetcher:   fetcher,
		sigHashes: txscript.NewTxSigHashes(tx, fetcher),
	}, nil
}

// PrevOutput returns output spent by input.
func (ctx *UnlockContext) PrevOutput(index int) (*wire.TxOut, error) {
	if index < 0 || index >= len(ctx.prevOuts) {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("input %d out of range", index))
	}

	return ctx.prevOuts[index], nil
}

// SegwitV0Sighash returns BIP-143 signature hash of input over script code.
// P2WPKH output script is converted to its implied script code.
func (ctx *UnlockContext) SegwitV0Sighash(index int, script []byte, hashType txscript.SigHashType) ([]byte, error) {
	prevOut, err := ctx.PrevOutput(index)
	if err != nil {
		return nil, err
	}

	hash, err := txscript.CalcWitnessSigHash(script, ctx.sigHashes, hashType, ctx.Packet.UnsignedTx, index, prevOut.Value)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrSighash, err)
	}

	return hash, nil
}

// TaprootKeySpendSighash returns BIP-341 key spend signature hash of input.
func (ctx *UnlockContext) TaprootKeySpendSighash(index int, hashType txscript.SigHashType) ([]byte, error) {
	if _, err := ctx.PrevOutput(index); err != nil {
		return nil, err
	}

	hash, err := txscript.CalcTaprootSignatureHash(ctx.sigHashes, hashType, ctx.Packet.UnsignedTx, index, ctx.fetcher)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrSighash, err)
	}

	return hash, nil
}

// TapscriptSighash returns BIP-341 script spend signature hash of input committing to leaf script.
func (ctx *UnlockContext) TapscriptSighash(index int, leafScript []byte, hashType txscript.SigHashType) ([]byte, error) {
	if _, err := ctx.PrevOutput(index); err != nil {
		return nil, err
	}

	hash, err := txscript.CalcTapscriptSignaturehash(ctx.sigHashes, hashType, ctx.Packet.UnsignedTx, index,
		ctx.fetcher, txscript.NewBaseTapLeaf(leafScript))
	if err != nil {
		return nil, errors.Join(bitcoin.ErrSighash, err)
	}

	return hash, nil
}
