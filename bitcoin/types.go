// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UTXO describes unspent transaction output data.
type UTXO struct {
	TxHash  chainhash.Hash
	Index   uint32         // output index in transaction outputs.
	Amount  btcutil.Amount // in Satoshi.
	Script  []byte         // ScriptPubKey.
	Address string         // output recipient address.
}

// OutPoint returns pointer to the previous output described by UTXO.
func (u *UTXO) OutPoint() *wire.OutPoint {
	return wire.NewOutPoint(&u.TxHash, u.Index)
}

// TxIn returns unsigned transaction input spending UTXO, with empty scriptSig and witness.
func (u *UTXO) TxIn() *wire.TxIn {
	return wire.NewTxIn(u.OutPoint(), nil, nil)
}
