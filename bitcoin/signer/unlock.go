// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/taptree"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// SHA256PreimageType defines BIP-174 input key type of SHA256 preimage: {0x0b}|{sha256(preimage)}.
const SHA256PreimageType byte = 0x0b

// InputDescriptor is a PSBT input populated by unlock operations.
type InputDescriptor = psbt.PInput

// UnlockOp is a single mutation of PSBT input at index.
type UnlockOp interface {
	Unlock(ctx *UnlockContext, index int) error
}

// ApplyUnlocks applies unlock operations in order to PSBT input at index.
func ApplyUnlocks(ctx *UnlockContext, index int, ops ...UnlockOp) error {
	if index < 0 || index >= len(ctx.Packet.Inputs) {
		return errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("input %d out of range", index))
	}

	for i, op := range ops {
		if err := op.Unlock(ctx, index); err != nil {
			return fmt.Errorf("unlock %d (%T) of input %d: %w", i, op, index, err)
		}
	}

	return nil
}

// InsertWitnessUTXO sets witness utxo to the output spent by input.
type InsertWitnessUTXO struct{}

// Unlock implements UnlockOp.
func (InsertWitnessUTXO) Unlock(ctx *UnlockContext, index int) error {
	prevOut, err := ctx.PrevOutput(index)
	if err != nil {
		return err
	}

	ctx.Packet.Inputs[index].WitnessUtxo = prevOut
	return nil
}

// InsertNonWitnessUTXO sets full previous transaction of input.
type InsertNonWitnessUTXO struct{}

// Unlock implements UnlockOp.
func (InsertNonWitnessUTXO) Unlock(ctx *UnlockContext, index int) error {
	if index >= len(ctx.prevTxs) || ctx.prevTxs[index] == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("previous transaction is not available"))
	}

	ctx.Packet.Inputs[index].NonWitnessUtxo = ctx.prevTxs[index]
	return nil
}

// SetInputWitnessScript sets P2WSH script of input, spent output must commit to it.
type SetInputWitnessScript struct {
	Script []byte
}

// Unlock implements UnlockOp.
func (op SetInputWitnessScript) Unlock(ctx *UnlockContext, index int) error {
	prevOut, err := ctx.PrevOutput(index)
	if err != nil {
		return err
	}

	expected, err := utils.P2WSHScript(op.Script)
	if err != nil {
		return errors.Join(bitcoin.ErrInvariantViolation, err)
	}
	if !bytes.Equal(expected, prevOut.PkScript) {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("spent output does not commit to witness script"))
	}

	ctx.Packet.Inputs[index].WitnessScript = op.Script
	return nil
}

// InsertTapInternalKey sets taproot internal key of input.
type InsertTapInternalKey struct {
	Key *btcec.PublicKey
}

// Unlock implements UnlockOp.
func (op InsertTapInternalKey) Unlock(ctx *UnlockContext, index int) error {
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil internal key"))
	}

	ctx.Packet.Inputs[index].TaprootInternalKey = schnorr.SerializePubKey(op.Key)
	return nil
}

// InsertTapMerkleRoot sets tap tree merkle root of input, key spend signature is tweaked by it.
type InsertTapMerkleRoot struct {
	Tree *taptree.Tree
}

// Unlock implements UnlockOp.
func (op InsertTapMerkleRoot) Unlock(ctx *UnlockContext, index int) error {
	if op.Tree == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil tap tree"))
	}

	root := op.Tree.MerkleRoot()
	ctx.Packet.Inputs[index].TaprootMerkleRoot = root.CloneBytes()
	return nil
}

// InsertInputDerivation records key origins of input signing key.
type InsertInputDerivation struct {
	Bip32   *psbt.Bip32Derivation
	Taproot *psbt.TaprootBip32Derivation
}

// Unlock implements UnlockOp.
func (op InsertInputDerivation) Unlock(ctx *UnlockContext, index int) error {
	if op.Bip32 == nil && op.Taproot == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("no derivation provided"))
	}

	input := &ctx.Packet.Inputs[index]
	if op.Bip32 != nil {
		input.Bip32Derivation = append(input.Bip32Derivation, op.Bip32)
	}
	if op.Taproot != nil {
		input.TaprootBip32Derivation = append(input.TaprootBip32Derivation, op.Taproot)
	}

	return nil
}

// SignECDSASegwitV0 signs segwit v0 input with ECDSA. Input witness script is used as script code
// when set, otherwise P2WPKH script code is derived from the spent output.
type SignECDSASegwitV0 struct {
	Key     *btcec.PrivateKey
	SigHash txscript.SigHashType
}

// Unlock implements UnlockOp.
func (op SignECDSASegwitV0) Unlock(ctx *UnlockContext, index int) error {
	input := &ctx.Packet.Inputs[index]
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil signing key"))
	}
	if input.WitnessUtxo == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness utxo is not set"))
	}

	pubKey := op.Key.PubKey().SerializeCompressed()
	script := input.WitnessScript
	if len(script) == 0 {
		script = input.WitnessUtxo.PkScript
		if !txscript.IsPayToWitnessPubKeyHash(script) || !bytes.Equal(script[2:], btcutil.Hash160(pubKey)) {
			return errors.Join(bitcoin.ErrInvariantViolation, errors.New("key does not control spent output"))
		}
	}

	sig, err := txscript.RawTxInWitnessSignature(ctx.Packet.UnsignedTx, ctx.sigHashes, index,
		input.WitnessUtxo.Value, script, op.SigHash, op.Key)
	if err != nil {
		return errors.Join(bitcoin.ErrSighash, err)
	}

	input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey,
		Signature: sig,
	})
	input.SighashType = op.SigHash
	log.Debugf("Input %d: ECDSA signature by %x", index, pubKey)

	return nil
}

// SignTaprootKeySpend signs taproot input with key tweaked by input merkle root (none for BIP-86 outputs).
type SignTaprootKeySpend struct {
	Key     *btcec.PrivateKey
	SigHash txscript.SigHashType
}

// Unlock implements UnlockOp.
func (op SignTaprootKeySpend) Unlock(ctx *UnlockContext, index int) error {
	input := &ctx.Packet.Inputs[index]
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil signing key"))
	}
	if input.WitnessUtxo == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness utxo is not set"))
	}

	outputKey := utils.TaprootOutputKey(op.Key.PubKey(), input.TaprootMerkleRoot)
	if !txscript.IsPayToTaproot(input.WitnessUtxo.PkScript) ||
		!bytes.Equal(input.WitnessUtxo.PkScript[2:], schnorr.SerializePubKey(outputKey)) {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("key does not control spent output"))
	}

	sig, err := txscript.RawTxInTaprootSignature(ctx.Packet.UnsignedTx, ctx.sigHashes, index,
		input.WitnessUtxo.Value, input.WitnessUtxo.PkScript, input.TaprootMerkleRoot, op.SigHash, op.Key)
	if err != nil {
		return errors.Join(bitcoin.ErrSighash, err)
	}

	input.TaprootKeySpendSig = sig
	input.SighashType = op.SigHash
	log.Debugf("Input %d: taproot key spend signature", index)

	return nil
}

// SignTaprootScriptSpend signs taproot input for leaf script with untweaked leaf key.
type SignTaprootScriptSpend struct {
	Key        *btcec.PrivateKey
	LeafScript []byte
	SigHash    txscript.SigHashType
}

// Unlock implements UnlockOp.
func (op SignTaprootScriptSpend) Unlock(ctx *UnlockContext, index int) error {
	input := &ctx.Packet.Inputs[index]
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil signing key"))
	}
	if input.WitnessUtxo == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness utxo is not set"))
	}

	xOnly := schnorr.SerializePubKey(op.Key.PubKey())
	if !bytes.Contains(op.LeafScript, xOnly) {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("leaf script does not check signing key"))
	}

	tapLeaf := txscript.NewBaseTapLeaf(op.LeafScript)
	sig, err := txscript.RawTxInTapscriptSignature(ctx.Packet.UnsignedTx, ctx.sigHashes, index,
		input.WitnessUtxo.Value, input.WitnessUtxo.PkScript, tapLeaf, op.SigHash, op.Key)
	if err != nil {
		return errors.Join(bitcoin.ErrSighash, err)
	}

	// sighash type is kept separately.
	if len(sig) > schnorr.SignatureSize {
		sig = sig[:schnorr.SignatureSize]
	}

	leafHash := tapLeaf.TapHash()
	input.TaprootScriptSpendSig = append(input.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: xOnly,
		LeafHash:    leafHash.CloneBytes(),
		Signature:   sig,
		SigHash:     op.SigHash,
	})
	input.SighashType = op.SigHash
	log.Debugf("Input %d: tapscript signature by %x for leaf %v", index, xOnly, leafHash)

	return nil
}

// InsertControlBlock stores control block of leaf script after taproot commitment verification.
type InsertControlBlock struct {
	LeafScript  []byte
	Tree        *taptree.Tree
	InternalKey *btcec.PublicKey
}

// Unlock implements UnlockOp.
func (op InsertControlBlock) Unlock(ctx *UnlockContext, index int) error {
	input := &ctx.Packet.Inputs[index]
	if op.Tree == nil || op.InternalKey == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("tap tree and internal key are required"))
	}
	if input.WitnessUtxo == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness utxo is not set"))
	}

	controlBlock, err := op.Tree.ControlBlock(op.LeafScript, op.InternalKey)
	if err != nil {
		return errors.Join(bitcoin.ErrInvalidCommitment, err)
	}

	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return errors.Join(bitcoin.ErrInvalidCommitment, err)
	}

	if err = taptree.VerifyControlBlock(controlBlockBytes, input.WitnessUtxo.PkScript, op.LeafScript); err != nil {
		return err
	}

	root := op.Tree.MerkleRoot()
	input.TaprootLeafScript = append(input.TaprootLeafScript, &psbt.TaprootTapLeafScript{
		ControlBlock: controlBlockBytes,
		Script:       op.LeafScript,
		LeafVersion:  txscript.BaseLeafVersion,
	})
	input.TaprootInternalKey = schnorr.SerializePubKey(op.InternalKey)
	input.TaprootMerkleRoot = root.CloneBytes()

	return nil
}

// InsertPreimage stores SHA256 preimage revealed by hash lock leaf.
type InsertPreimage struct {
	Preimage []byte
}

// Unlock implements UnlockOp.
func (op InsertPreimage) Unlock(ctx *UnlockContext, index int) error {
	if len(op.Preimage) == 0 {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("empty preimage"))
	}

	hash := sha256.Sum256(op.Preimage)
	input := &ctx.Packet.Inputs[index]
	input.Unknowns = append(input.Unknowns, &psbt.Unknown{
		Key:   append([]byte{SHA256PreimageType}, hash[:]...),
		Value: op.Preimage,
	})

	return nil
}

// preimage returns SHA256 preimage of hash stored in input.
func preimage(input *InputDescriptor, hash []byte) ([]byte, bool) {
	key := append([]byte{SHA256PreimageType}, hash...)
	for _, unknown := range input.Unknowns {
		if bytes.Equal(unknown.Key, key) {
			return unknown.Value, true
		}
	}

	return nil, false
}
