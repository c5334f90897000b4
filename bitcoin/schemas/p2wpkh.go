// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package schemas

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// P2WPKHPurpose defines BIP-84 purpose.
const P2WPKHPurpose uint32 = 84

// ensures that P2WPKH implements Schema.
var _ Schema = P2WPKH{}

// P2WPKH is a segwit v0 key hash schema: {OP_0 <hash160(pubKey)>}, witness {<sig> <pubKey>}.
type P2WPKH struct{}

// Purpose implements Schema.
func (P2WPKH) Purpose() uint32 {
	return P2WPKHPurpose
}

// Tag implements Schema.
func (P2WPKH) Tag() txbuilder.SchemaTag {
	return txbuilder.P2WPKHTag
}

// Sequence implements Schema.
func (P2WPKH) Sequence() uint32 {
	return wire.MaxTxInSequenceNum
}

// ScriptFromKey implements Schema.
func (P2WPKH) ScriptFromKey(pubKey *btcec.PublicKey) ([]byte, error) {
	return utils.P2WPKHScript(pubKey)
}

// LockOps implements Schema.
func (s P2WPKH) LockOps(params LockParams) ([]txbuilder.LockOp, error) {
	pubKey, err := bundlePubKey(params.Key)
	if err != nil {
		return nil, err
	}

	script, err := s.ScriptFromKey(pubKey)
	if err != nil {
		return nil, err
	}

	derivation, err := params.Key.Bip32Derivation()
	if err != nil {
		return nil, err
	}

	return []txbuilder.LockOp{
		txbuilder.SetWitnessScript{Script: script},
		txbuilder.InsertBip32Derivation{Derivation: derivation},
	}, nil
}

// UnlockOps implements Schema.
func (P2WPKH) UnlockOps(params UnlockParams) ([]signer.UnlockOp, error) {
	privKey, _, err := bundleKeys(params.Key)
	if err != nil {
		return nil, err
	}

	derivation, err := params.Key.Bip32Derivation()
	if err != nil {
		return nil, err
	}

	return []signer.UnlockOp{
		signer.InsertNonWitnessUTXO{},
		signer.InsertWitnessUTXO{},
		signer.InsertInputDerivation{Bip32: derivation},
		signer.SignECDSASegwitV0{Key: privKey, SigHash: txscript.SigHashAll},
	}, nil
}
