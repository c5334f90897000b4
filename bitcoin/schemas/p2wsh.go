// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package schemas

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// P2WSHMultisigPurpose defines BIP-48 purpose of multisig wallets.
const P2WSHMultisigPurpose uint32 = 48

// ensures that P2WSHMultisig implements Schema.
var _ Schema = P2WSHMultisig{}

// P2WSHMultisig is a segwit v0 script hash schema over {<required> <pubKey1> ... <pubKeyN> <N> OP_CHECKMULTISIG},
// witness {<> <sig1> ... <sigRequired> <redeem script>}. Every co-signer applies its own unlock operations.
type P2WSHMultisig struct {
	Required int
	PubKeys  []*btcec.PublicKey // in redeem script order.
}

// Purpose implements Schema.
func (P2WSHMultisig) Purpose() uint32 {
	return P2WSHMultisigPurpose
}

// Tag implements Schema.
func (P2WSHMultisig) Tag() txbuilder.SchemaTag {
	return txbuilder.P2WSHTag
}

// Sequence implements Schema.
func (P2WSHMultisig) Sequence() uint32 {
	return wire.MaxTxInSequenceNum
}

// RedeemScript returns multisig script committed by the output.
func (s P2WSHMultisig) RedeemScript() ([]byte, error) {
	redeem, err := utils.MultiSigRedeemScript(s.Required, s.PubKeys...)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	return redeem, nil
}

// ScriptFromKey implements Schema, key must be one of the co-signers keys.
func (s P2WSHMultisig) ScriptFromKey(pubKey *btcec.PublicKey) ([]byte, error) {
	if !s.participates(pubKey) {
		return nil, errors.Join(bitcoin.ErrInvalidKey, errors.New("key is not a co-signer"))
	}

	redeem, err := s.RedeemScript()
	if err != nil {
		return nil, err
	}

	return utils.P2WSHScript(redeem)
}

// LockOps implements Schema.
func (s P2WSHMultisig) LockOps(params LockParams) ([]txbuilder.LockOp, error) {
	pubKey, err := bundlePubKey(params.Key)
	if err != nil {
		return nil, err
	}
	if !s.participates(pubKey) {
		return nil, errors.Join(bitcoin.ErrInvalidKey, errors.New("key is not a co-signer"))
	}

	redeem, err := s.RedeemScript()
	if err != nil {
		return nil, err
	}

	derivation, err := params.Key.Bip32Derivation()
	if err != nil {
		return nil, err
	}

	return []txbuilder.LockOp{
		txbuilder.SetRedeemScript{Script: redeem},
		txbuilder.InsertBip32Derivation{Derivation: derivation},
	}, nil
}

// UnlockOps implements Schema. Operations need only witness utxo of the input,
// so co-signers apply them to PSBT received over the wire.
func (s P2WSHMultisig) UnlockOps(params UnlockParams) ([]signer.UnlockOp, error) {
	privKey, pubKey, err := bundleKeys(params.Key)
	if err != nil {
		return nil, err
	}
	if !s.participates(pubKey) {
		return nil, errors.Join(bitcoin.ErrInvalidKey, errors.New("key is not a co-signer"))
	}

	redeem, err := s.RedeemScript()
	if err != nil {
		return nil, err
	}

	derivation, err := params.Key.Bip32Derivation()
	if err != nil {
		return nil, err
	}

	return []signer.UnlockOp{
		signer.InsertWitnessUTXO{},
		signer.SetInputWitnessScript{Script: redeem},
		signer.InsertInputDerivation{Bip32: derivation},
		signer.SignECDSASegwitV0{Key: privKey, SigHash: txscript.SigHashAll},
	}, nil
}

// participates returns true if key is one of the co-signers keys.
func (s P2WSHMultisig) participates(pubKey *btcec.PublicKey) bool {
	if pubKey == nil {
		return false
	}

	for _, key := range s.PubKeys {
		if key.IsEqual(pubKey) {
			return true
		}
	}

	return false
}
