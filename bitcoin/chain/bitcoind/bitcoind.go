// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoind

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/chain"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
)

const (
	// defaultMinConf defines min confirmations of outputs returned by listunspent.
	defaultMinConf = 1
	// maxConf defines max confirmations of outputs returned by listunspent.
	maxConf = 9999999
	// defaultConfTarget defines default estimatesmartfee confirmation target in blocks.
	defaultConfTarget = 6
	// defaultOutputs defines outputs count used for fee estimation: receiver and change.
	defaultOutputs = 2
)

// ensures that Provider implements chain.Provider.
var _ chain.Provider = (*Provider)(nil)

// Client is a subset of bitcoind JSON-RPC methods the provider relies on,
// *rpcclient.Client implements it.
type Client interface {
	ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
}

// Config defines provider configuration.
type Config struct {
	Addresses   []btcutil.Address // caller-controlled addresses, must be watched by node wallet.
	MinConf     int               // min confirmations of spendable outputs.
	ConfTarget  int64             // estimatesmartfee confirmation target.
	FallbackFee btcutil.Amount    // fee used when node can not estimate fee rate.
	Outputs     int               // outputs count used for fee estimation.
}

// Provider implements chain.Provider over bitcoind JSON-RPC.
//
// Outputs snapshot is loaded by PrevInputs and reused by following calls,
// so ContractSource, ScriptBalance and Fee describe exactly the same outputs.
type Provider struct {
	client Client
	config Config

	mu       sync.Mutex
	snapshot []btcjson.ListUnspentResult
}

// New is a constructor for Provider.
func New(client Client, config Config) *Provider {
	if config.MinConf == 0 {
		config.MinConf = defaultMinConf
	}
	if config.ConfTarget == 0 {
		config.ConfTarget = defaultConfTarget
	}
	if config.Outputs == 0 {
		config.Outputs = defaultOutputs
	}

	return &Provider{
		client: client,
		config: config,
	}
}

// Dial connects to bitcoind with HTTP POST mode and returns provider with the connection.
func Dial(connConfig *rpcclient.ConnConfig, config Config) (*Provider, *rpcclient.Client, error) {
	connConfig.HTTPPostMode = true
	client, err := rpcclient.New(connConfig, nil)
	if err != nil {
		return nil, nil, errors.Join(bitcoin.ErrProvider, err)
	}

	return New(client, config), client, nil
}

// PrevInputs implements chain.Provider, refreshes outputs snapshot.
func (p *Provider) PrevInputs(ctx context.Context) ([]*wire.TxIn, error) {
	snapshot, err := p.load(ctx, true)
	if err != nil {
		return nil, err
	}

	inputs := make([]*wire.TxIn, len(snapshot))
	for i, unspent := range snapshot {
		utxo, err := toUTXO(unspent)
		if err != nil {
			return nil, err
		}

		inputs[i] = utxo.TxIn()
	}

	return inputs, nil
}

// ContractSource implements chain.Provider.
func (p *Provider) ContractSource(ctx context.Context) ([]*wire.MsgTx, error) {
	snapshot, err := p.load(ctx, false)
	if err != nil {
		return nil, err
	}

	prevTxs := make([]*wire.MsgTx, len(snapshot))
	for i, unspent := range snapshot {
		if err = ctx.Err(); err != nil {
			return nil, errors.Join(bitcoin.ErrProvider, err)
		}

		txHash, err := chainhash.NewHashFromStr(unspent.TxID)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrProvider, err)
		}

		tx, err := p.client.GetRawTransaction(txHash)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("getrawtransaction %s: %w", txHash, err))
		}

		prevTxs[i] = tx.MsgTx()
	}

	return prevTxs, nil
}

// ScriptBalance implements chain.Provider.
func (p *Provider) ScriptBalance(ctx context.Context) (btcutil.Amount, error) {
	snapshot, err := p.load(ctx, false)
	if err != nil {
		return 0, err
	}

	var balance btcutil.Amount
	for _, unspent := range snapshot {
		utxo, err := toUTXO(unspent)
		if err != nil {
			return 0, err
		}

		balance += utxo.Amount
	}

	return balance, nil
}

// Fee implements chain.Provider: estimated fee rate multiplied by rough transaction size.
// Falls back to configured fee when node answers without fee rate.
func (p *Provider) Fee(ctx context.Context) (btcutil.Amount, error) {
	snapshot, err := p.load(ctx, false)
	if err != nil {
		return 0, err
	}

	mode := btcjson.EstimateModeConservative
	estimation, err := p.client.EstimateSmartFee(p.config.ConfTarget, &mode)
	if err != nil {
		return 0, errors.Join(bitcoin.ErrProvider, err)
	}
	if estimation == nil || estimation.FeeRate == nil {
		var reasons []string
		if estimation != nil {
			reasons = estimation.Errors
		}
		log.Warnf("Node has no fee rate estimation, using fallback fee %v: %v", p.config.FallbackFee, reasons)

		return p.config.FallbackFee, nil
	}

	feeRate, err := btcutil.NewAmount(*estimation.FeeRate) // per kvB.
	if err != nil {
		return 0, errors.Join(bitcoin.ErrProvider, err)
	}

	vBytes := txbuilder.RoughTxSizeEstimate(len(snapshot), p.config.Outputs)
	fee := feeRate * btcutil.Amount(vBytes) / 1000
	log.Debugf("Estimated fee %v for %d vB at %v/kvB", fee, vBytes, feeRate)

	return fee, nil
}

// BroadcastTransaction implements chain.Provider, drops outputs snapshot on success.
func (p *Provider) BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	txHash, err := p.client.SendRawTransaction(tx, false)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("sendrawtransaction: %w", err))
	}

	p.mu.Lock()
	p.snapshot = nil
	p.mu.Unlock()

	log.Infof("Broadcast transaction %v", txHash)

	return txHash, nil
}

// load returns outputs snapshot, queries node when refresh is requested or snapshot is empty.
func (p *Provider) load(ctx context.Context, refresh bool) ([]btcjson.ListUnspentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !refresh && p.snapshot != nil {
		return p.snapshot, nil
	}

	unspent, err := p.client.ListUnspentMinMaxAddresses(p.config.MinConf, maxConf, p.config.Addresses)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, fmt.Errorf("listunspent: %w", err))
	}

	snapshot := make([]btcjson.ListUnspentResult, 0, len(unspent))
	for _, result := range unspent {
		if !result.Spendable && !p.watches(result.Address) {
			continue
		}

		snapshot = append(snapshot, result)
	}
	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].TxID != snapshot[j].TxID {
			return snapshot[i].TxID < snapshot[j].TxID
		}

		return snapshot[i].Vout < snapshot[j].Vout
	})

	log.Debugf("Loaded %d unspent outputs", len(snapshot))
	p.snapshot = snapshot

	return snapshot, nil
}

// watches returns true if address is one of configured addresses.
func (p *Provider) watches(address string) bool {
	for _, watched := range p.config.Addresses {
		if watched.EncodeAddress() == address {
			return true
		}
	}

	return false
}

// toUTXO converts listunspent entry to UTXO.
func toUTXO(unspent btcjson.ListUnspentResult) (*bitcoin.UTXO, error) {
	txHash, err := chainhash.NewHashFromStr(unspent.TxID)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	amount, err := btcutil.NewAmount(unspent.Amount)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	script, err := hex.DecodeString(unspent.ScriptPubKey)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrProvider, err)
	}

	return &bitcoin.UTXO{
		TxHash:  *txHash,
		Index:   unspent.Vout,
		Amount:  amount,
		Script:  script,
		Address: unspent.Address,
	}, nil
}
