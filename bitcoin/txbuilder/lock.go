// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/taptree"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// OutputDescriptor describes one transaction output before it is placed into PSBT.
type OutputDescriptor struct {
	WitnessScript   []byte           // chain-visible locking script.
	RedeemScript    []byte           // P2WSH script committed by WitnessScript.
	TapInternalKey  *btcec.PublicKey // untweaked taproot internal key.
	TapTree         *taptree.Tree
	TapKeyOrigins   []*psbt.TaprootBip32Derivation
	Bip32Derivation []*psbt.Bip32Derivation
}

// LockOp is a single mutation of OutputDescriptor.
type LockOp interface {
	Lock(descriptor *OutputDescriptor) error
}

// ApplyLocks applies lock operations in order to a zero descriptor and validates the result.
func ApplyLocks(ops ...LockOp) (*OutputDescriptor, error) {
	descriptor := new(OutputDescriptor)
	for i, op := range ops {
		if err := op.Lock(descriptor); err != nil {
			return nil, fmt.Errorf("lock %d (%T): %w", i, op, err)
		}
	}

	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	return descriptor, nil
}

// Validate checks descriptor invariants.
func (d *OutputDescriptor) Validate() error {
	if len(d.WitnessScript) == 0 {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("output witness script is not set"))
	}
	if d.TapTree != nil && d.TapInternalKey == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("tap tree requires internal key"))
	}

	if d.TapInternalKey != nil {
		var merkleRoot []byte
		if d.TapTree != nil {
			root := d.TapTree.MerkleRoot()
			merkleRoot = root[:]
		}

		expected, err := utils.P2TRScript(d.TapInternalKey, merkleRoot)
		if err != nil {
			return errors.Join(bitcoin.ErrInvariantViolation, err)
		}
		if !bytes.Equal(expected, d.WitnessScript) {
			return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness script does not commit to internal key and tap tree"))
		}
	}

	if len(d.RedeemScript) != 0 {
		expected, err := utils.P2WSHScript(d.RedeemScript)
		if err != nil {
			return errors.Join(bitcoin.ErrInvariantViolation, err)
		}
		if !bytes.Equal(expected, d.WitnessScript) {
			return errors.Join(bitcoin.ErrInvariantViolation, errors.New("witness script does not commit to redeem script"))
		}
	}

	return nil
}

// POutput converts descriptor to PSBT output, tap tree is serialised as in BIP-371.
func (d *OutputDescriptor) POutput() (psbt.POutput, error) {
	output := psbt.POutput{
		WitnessScript:          d.RedeemScript,
		Bip32Derivation:        d.Bip32Derivation,
		TaprootBip32Derivation: d.TapKeyOrigins,
	}

	if d.TapInternalKey != nil {
		output.TaprootInternalKey = schnorr.SerializePubKey(d.TapInternalKey)
	}

	if d.TapTree != nil {
		tree, err := d.TapTree.Serialize()
		if err != nil {
			return psbt.POutput{}, err
		}

		output.TaprootTapTree = tree
	}

	return output, nil
}

// SetWitnessScript sets the final chain-visible script.
type SetWitnessScript struct {
	Script []byte
}

// Lock implements LockOp.
func (op SetWitnessScript) Lock(d *OutputDescriptor) error {
	if len(op.Script) == 0 {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("empty witness script"))
	}

	d.WitnessScript = op.Script
	return nil
}

// SetRedeemScript sets P2WSH redeem script and its witness script hash output script.
type SetRedeemScript struct {
	Script []byte
}

// Lock implements LockOp.
func (op SetRedeemScript) Lock(d *OutputDescriptor) error {
	if len(op.Script) == 0 || len(op.Script) > txscript.MaxScriptSize {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("invalid redeem script size"))
	}

	witnessScript, err := utils.P2WSHScript(op.Script)
	if err != nil {
		return errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	d.RedeemScript = op.Script
	d.WitnessScript = witnessScript
	return nil
}

// SetTapInternalKey sets taproot internal key.
type SetTapInternalKey struct {
	Key *btcec.PublicKey
}

// Lock implements LockOp.
func (op SetTapInternalKey) Lock(d *OutputDescriptor) error {
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil internal key"))
	}

	d.TapInternalKey = op.Key
	return nil
}

// SetTapTree builds Huffman tree of weighted scripts and stores it.
type SetTapTree struct {
	Scripts []taptree.WeightedScript
}

// Lock implements LockOp.
func (op SetTapTree) Lock(d *OutputDescriptor) error {
	tree, err := taptree.BuildHuffman(op.Scripts)
	if err != nil {
		return errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	d.TapTree = tree
	return nil
}

// InsertTapKeyOrigin records key origin of x-only key and leaf hashes of scripts it participates in.
type InsertTapKeyOrigin struct {
	Scripts     []taptree.WeightedScript
	Key         *btcec.PublicKey
	Fingerprint uint32
	Path        []uint32
}

// Lock implements LockOp.
func (op InsertTapKeyOrigin) Lock(d *OutputDescriptor) error {
	if op.Key == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil key origin key"))
	}

	leafHashes := make([][]byte, len(op.Scripts))
	for i, script := range op.Scripts {
		leafHash := taptree.LeafHash(script.Script)
		leafHashes[i] = leafHash[:]
	}

	d.TapKeyOrigins = append(d.TapKeyOrigins, &psbt.TaprootBip32Derivation{
		XOnlyPubKey:          schnorr.SerializePubKey(op.Key),
		LeafHashes:           leafHashes,
		MasterKeyFingerprint: op.Fingerprint,
		Bip32Path:            append([]uint32(nil), op.Path...),
	})
	return nil
}

// InsertBip32Derivation records key origin of segwit output key.
type InsertBip32Derivation struct {
	Derivation *psbt.Bip32Derivation
}

// Lock implements LockOp.
func (op InsertBip32Derivation) Lock(d *OutputDescriptor) error {
	if op.Derivation == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("nil bip32 derivation"))
	}

	d.Bip32Derivation = append(d.Bip32Derivation, op.Derivation)
	return nil
}

// FinaliseTapWitness sets witness script to p2tr script of internal key tweaked by tree merkle root.
type FinaliseTapWitness struct{}

// Lock implements LockOp.
func (FinaliseTapWitness) Lock(d *OutputDescriptor) error {
	if d.TapInternalKey == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("finalise tap witness: internal key is not set"))
	}
	if d.TapTree == nil {
		return errors.Join(bitcoin.ErrInvariantViolation, errors.New("finalise tap witness: tap tree is not set"))
	}

	root := d.TapTree.MerkleRoot()
	script, err := utils.P2TRScript(d.TapInternalKey, root[:])
	if err != nil {
		return errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	d.WitnessScript = script
	return nil
}
