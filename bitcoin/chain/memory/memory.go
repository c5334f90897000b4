// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/chain"
)

// ensures that Provider implements chain.Provider.
var _ chain.Provider = (*Provider)(nil)

// Provider is an in-memory chain-data fixture.
type Provider struct {
	mu sync.Mutex

	unspent      []bitcoin.UTXO
	prevTxs      []*wire.MsgTx
	fee          btcutil.Amount
	broadcasts   []*wire.MsgTx
	broadcastErr error
}

// New is a constructor for Provider, fee is returned as is on every call.
func New(fee btcutil.Amount) *Provider {
	return &Provider{fee: fee}
}

// AddUnspent registers output vout of prevTx as controlled by the caller.
func (p *Provider) AddUnspent(prevTx *wire.MsgTx, vout uint32) error {
	if int(vout) >= len(prevTx.TxOut) {
		return fmt.Errorf("transaction %s has no output %d", prevTx.TxHash(), vout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	txOut := prevTx.TxOut[vout]
	p.unspent = append(p.unspent, bitcoin.UTXO{
		TxHash: prevTx.TxHash(),
		Index:  vout,
		Amount: btcutil.Amount(txOut.Value),
		Script: txOut.PkScript,
	})
	p.prevTxs = append(p.prevTxs, prevTx)

	return nil
}

// SetFee updates fee reserve.
func (p *Provider) SetFee(fee btcutil.Amount) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fee = fee
}

// SetBroadcastError makes every following broadcast fail with err, nil resets it.
func (p *Provider) SetBroadcastError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.broadcastErr = err
}

// Broadcasts returns transactions accepted by BroadcastTransaction.
func (p *Provider) Broadcasts() []*wire.MsgTx {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*wire.MsgTx(nil), p.broadcasts...)
}

// PrevInputs implements chain.Provider.
func (p *Provider) PrevInputs(context.Context) ([]*wire.TxIn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inputs := make([]*wire.TxIn, len(p.unspent))
	for i := range p.unspent {
		inputs[i] = p.unspent[i].TxIn()
	}

	return inputs, nil
}

// ContractSource implements chain.Provider.
func (p *Provider) ContractSource(context.Context) ([]*wire.MsgTx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*wire.MsgTx(nil), p.prevTxs...), nil
}

// ScriptBalance implements chain.Provider.
func (p *Provider) ScriptBalance(context.Context) (btcutil.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var balance btcutil.Amount
	for _, utxo := range p.unspent {
		balance += utxo.Amount
	}

	return balance, nil
}

// Fee implements chain.Provider.
func (p *Provider) Fee(context.Context) (btcutil.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.fee, nil
}

// BroadcastTransaction implements chain.Provider, spent outputs are removed from the fixture.
func (p *Provider) BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broadcastErr != nil {
		return nil, errors.Join(bitcoin.ErrProvider, p.broadcastErr)
	}

	spent := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		spent[in.PreviousOutPoint] = struct{}{}
	}

	var (
		unspent = p.unspent[:0]
		prevTxs = p.prevTxs[:0]
	)
	for i, utxo := range p.unspent {
		if _, ok := spent[*utxo.OutPoint()]; ok {
			continue
		}

		unspent = append(unspent, utxo)
		prevTxs = append(prevTxs, p.prevTxs[i])
	}
	p.unspent, p.prevTxs = unspent, prevTxs

	p.broadcasts = append(p.broadcasts, tx.Copy())
	txHash := tx.TxHash()

	return &txHash, nil
}
