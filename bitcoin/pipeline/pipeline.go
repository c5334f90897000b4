// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/chain"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/schemas"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// ConstructParams defines parameters for Construct method.
type ConstructParams struct {
	Receivers [][]txbuilder.LockOp   // lock operations of every receiver output, in outputs order.
	CreateTx  txbuilder.CreateTxFunc // txbuilder.SingleOutput when nil.
	Schema    schemas.Schema         // schema of every spent output.
	Key       *keys.KeyBundle        // key signing every input, its xpub is added to PSBT.
}

// Construction is a partially signed transaction with previous transactions of its inputs.
type Construction struct {
	Packet  *psbt.Packet
	PrevTxs []*wire.MsgTx
	Fee     btcutil.Amount // actual miner fee.
}

// Pipeline builds, signs and broadcasts transactions spending outputs supplied by chain provider.
type Pipeline struct {
	provider      chain.Provider
	networkParams *chaincfg.Params
}

// New is a constructor for Pipeline.
func New(provider chain.Provider, networkParams *chaincfg.Params) *Pipeline {
	return &Pipeline{
		provider:      provider,
		networkParams: networkParams,
	}
}

// Construct loads provider snapshot, builds receiver outputs and unsigned transaction,
// assembles PSBT and applies schema unlock operations to every input.
func (p *Pipeline) Construct(ctx context.Context, params ConstructParams) (*Construction, error) {
	if params.Schema == nil || len(params.Receivers) == 0 {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("schema and receivers are required"))
	}

	createTx := params.CreateTx
	if createTx == nil {
		createTx = txbuilder.SingleOutput()
	}

	snapshot, err := chain.LoadSnapshot(ctx, p.provider)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Inputs) == 0 {
		return nil, txbuilder.NewInsufficientError(snapshot.Fee+1, 0)
	}
	log.Debugf("Spending %d inputs, balance %v, fee reserve %v", len(snapshot.Inputs), snapshot.Balance, snapshot.Fee)

	outputs := make([]*txbuilder.OutputDescriptor, len(params.Receivers))
	for i, locks := range params.Receivers {
		outputs[i], err = txbuilder.ApplyLocks(locks...)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
	}

	unsigned, err := createTx(txbuilder.CreateTxParams{
		Outputs: outputs,
		Inputs:  snapshot.Inputs,
		Balance: snapshot.Balance,
		Fee:     snapshot.Fee,
	})
	if err != nil {
		return nil, err
	}

	sequence := params.Schema.Sequence()
	for _, txIn := range unsigned.Tx.TxIn {
		txIn.Sequence = sequence
	}

	var xpubs []psbt.XPub
	if params.Key != nil {
		xpubs = append(xpubs, params.Key.XPub())
	}

	inputs := make([]int, len(unsigned.Tx.TxIn))
	for i := range inputs {
		inputs[i] = i
	}

	packet, err := txbuilder.Assemble(unsigned.Tx, unsigned.Outputs, xpubs,
		map[txbuilder.SchemaTag][]int{params.Schema.Tag(): inputs})
	if err != nil {
		return nil, err
	}

	unlockCtx, err := signer.NewUnlockContext(packet, snapshot.PrevTxs)
	if err != nil {
		return nil, err
	}

	unlocks, err := params.Schema.UnlockOps(schemas.UnlockParams{Key: params.Key})
	if err != nil {
		return nil, err
	}

	for _, index := range inputs {
		if err = signer.ApplyUnlocks(unlockCtx, index, unlocks...); err != nil {
			return nil, err
		}
	}

	for i, out := range unsigned.Tx.TxOut {
		if address, err := utils.AddressFromScript(p.networkParams, out.PkScript); err == nil {
			log.Debugf("Output %d: %v to %v", i, btcutil.Amount(out.Value), address)
		}
	}

	return &Construction{
		Packet:  packet,
		PrevTxs: snapshot.PrevTxs,
		Fee:     unsigned.Fee,
	}, nil
}

// Serialize returns serialized PSBT of the construction for co-signers.
func (c *Construction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Packet.Serialize(&buf); err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	return buf.Bytes(), nil
}

// Combine merges signatures of serialized PSBTs of co-signers into the construction.
func (c *Construction) Combine(serialized ...[]byte) error {
	packets := []*psbt.Packet{c.Packet}
	for _, data := range serialized {
		packet, err := psbt.NewFromRawBytes(bytes.NewReader(data), false)
		if err != nil {
			return errors.Join(bitcoin.ErrInvariantViolation, err)
		}

		packets = append(packets, packet)
	}

	combined, err := signer.Combine(packets...)
	if err != nil {
		return err
	}

	c.Packet = combined
	return nil
}

// Finalise builds witnesses of signed construction, returns extracted transaction
// after checking value conservation and executing every input script.
func (p *Pipeline) Finalise(c *Construction) (*wire.MsgTx, error) {
	if err := signer.Finalize(c.Packet); err != nil {
		return nil, err
	}

	tx, err := signer.Extract(c.Packet)
	if err != nil {
		return nil, err
	}

	prevOuts, err := chain.PrevOutputs(tx.TxIn, c.PrevTxs)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrFinalisation, err)
	}

	if err = checkConservation(tx, prevOuts, c.Fee); err != nil {
		return nil, err
	}

	if err = signer.VerifyTx(tx, prevOuts); err != nil {
		return nil, err
	}

	log.Debugf("Finalised transaction %v: %v", tx.TxHash(), newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return tx, nil
}

// Broadcast submits finalised transaction to provider.
func (p *Pipeline) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	txHash, err := p.provider.BroadcastTransaction(ctx, tx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	log.Infof("Broadcast transaction %v", txHash)

	return txHash, nil
}

// Send constructs, finalises and broadcasts transaction signed by the single key.
// Nothing is broadcast if any stage fails.
func (p *Pipeline) Send(ctx context.Context, params ConstructParams) (*chainhash.Hash, error) {
	construction, err := p.Construct(ctx, params)
	if err != nil {
		return nil, err
	}

	tx, err := p.Finalise(construction)
	if err != nil {
		return nil, err
	}

	return p.Broadcast(ctx, tx)
}

// checkConservation checks that inputs total equals outputs total plus fee.
func checkConservation(tx *wire.MsgTx, prevOuts []*wire.TxOut, fee btcutil.Amount) error {
	var in, out btcutil.Amount
	for _, prevOut := range prevOuts {
		in += btcutil.Amount(prevOut.Value)
	}
	for _, txOut := range tx.TxOut {
		if txOut.Value < 0 {
			return errors.Join(bitcoin.ErrInvariantViolation, errors.New("negative output value"))
		}
		out += btcutil.Amount(txOut.Value)
	}

	if in != out+fee {
		return errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("inputs %v do not cover outputs %v and fee %v", in, out, fee))
	}

	return nil
}
