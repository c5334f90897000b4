// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// DelayBlocks defines default relative timelock (in blocks) of the Delay leaf.
const DelayBlocks = 144

// maxMultiSigKeys defines max keys count of the CHECKMULTISIG redeem script.
const maxMultiSigKeys = txscript.MaxPubKeysPerMultiSig

// ErrNoKeys defines that script template received no public keys.
var ErrNoKeys = errors.New("no public keys provided")

// CheckSingleSig builds taproot leaf {<xOnly> OP_CHECKSIG}.
func CheckSingleSig(pubKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// Delay builds taproot leaf spendable by the key after DelayBlocks confirmations.
func Delay(pubKey *btcec.PublicKey) ([]byte, error) {
	return DelayWithBlocks(pubKey, DelayBlocks)
}

// DelayWithBlocks builds taproot leaf {<blocks> OP_CHECKSEQUENCEVERIFY OP_DROP <xOnly> OP_CHECKSIG}.
func DelayWithBlocks(pubKey *btcec.PublicKey, blocks int64) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddInt64(blocks).
		AddOp(txscript.OP_CHECKSEQUENCEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// HashLock builds taproot leaf {OP_SHA256 <sha256(preimage)> OP_EQUALVERIFY <xOnly> OP_CHECKSIG}.
func HashLock(pubKey *btcec.PublicKey, preimage []byte) ([]byte, error) {
	hash := sha256.Sum256(preimage)

	return HashLockFromHash(pubKey, hash[:])
}

// HashLockFromHash builds hash-lock leaf when only the preimage hash is known.
func HashLockFromHash(pubKey *btcec.PublicKey, hash []byte) ([]byte, error) {
	if len(hash) != sha256.Size {
		return nil, errors.New("hash must be 32 bytes")
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// Check2Of2 builds taproot leaf {<x1> OP_CHECKSIG <x2> OP_CHECKSIGADD 2 OP_EQUAL}.
func Check2Of2(first, second *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(first)).
		AddOp(txscript.OP_CHECKSIG).
		AddData(schnorr.SerializePubKey(second)).
		AddOp(txscript.OP_CHECKSIGADD).
		AddInt64(2).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// CheckNOfN generates N of N multi-sig locking script for taproot leaf.
// INFO: Script will have the next format: {<pubKey1> OP_CHECKSIG [<pubKey2> OP_CHECKSIGADD ...] <N> OP_NUMEQUAL}.
func CheckNOfN(pubKeys ...*btcec.PublicKey) ([]byte, error) {
	if len(pubKeys) == 0 {
		return nil, ErrNoKeys
	}
	if len(pubKeys) > 999 {
		return nil, errors.New("max allowed public keys: 999")
	}

	checkSigOp := byte(txscript.OP_CHECKSIG)
	scriptBuilder := txscript.NewScriptBuilder()
	for i, pubKey := range pubKeys {
		scriptBuilder.
			AddData(schnorr.SerializePubKey(pubKey)).
			AddOp(checkSigOp)
		if i == 0 {
			checkSigOp = txscript.OP_CHECKSIGADD
		}
	}

	return scriptBuilder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_NUMEQUAL).
		Script()
}

// MultiSigRedeemScript builds {<required> <pubKey1> ... <pubKeyN> <N> OP_CHECKMULTISIG} keeping keys order.
func MultiSigRedeemScript(required int, pubKeys ...*btcec.PublicKey) ([]byte, error) {
	if len(pubKeys) == 0 {
		return nil, ErrNoKeys
	}
	if len(pubKeys) > maxMultiSigKeys {
		return nil, errors.New("too many public keys for multi-sig")
	}
	if required < 1 || required > len(pubKeys) {
		return nil, errors.New("required signatures count is out of range")
	}

	scriptBuilder := txscript.NewScriptBuilder().AddInt64(int64(required))
	for _, pubKey := range pubKeys {
		scriptBuilder.AddData(pubKey.SerializeCompressed())
	}

	return scriptBuilder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// P2WPKHScript builds {OP_0 <hash160(pubKey)>}.
func P2WPKHScript(pubKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
		Script()
}

// P2WSHScript builds {OP_0 <sha256(redeemScript)>}.
func P2WSHScript(redeemScript []byte) ([]byte, error) {
	hash := sha256.Sum256(redeemScript)

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
}

// TaprootOutputKey returns internal key tweaked by merkle root, nil merkle root means key-path only output.
func TaprootOutputKey(internalKey *btcec.PublicKey, merkleRoot []byte) *btcec.PublicKey {
	if len(merkleRoot) == 0 {
		return txscript.ComputeTaprootKeyNoScript(internalKey)
	}

	return txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)
}

// P2TRScript builds {OP_1 <xOnly(tweaked internal key)>}.
func P2TRScript(internalKey *btcec.PublicKey, merkleRoot []byte) ([]byte, error) {
	return txscript.PayToTaprootScript(TaprootOutputKey(internalKey, merkleRoot))
}

// MustScript panics in case of script building error, used for static templates.
func MustScript(script []byte, err error) []byte {
	if err != nil {
		panic(err)
	}

	return script
}
