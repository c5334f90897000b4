// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package schemas

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/taptree"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

const (
	// P2TRKeyPathPurpose defines default purpose of taproot key path keys.
	P2TRKeyPathPurpose uint32 = 341
	// P2TRScriptPathPurpose defines default purpose of taproot script path keys (BIP-86).
	P2TRScriptPathPurpose uint32 = 86
)

var (
	// ensures that P2TRKeyPath implements Schema.
	_ Schema = P2TRKeyPath{}
	// ensures that P2TRScriptPath implements Schema.
	_ Schema = P2TRScriptPath{}
)

// P2TRKeyPath is a segwit v1 key path schema: {OP_1 <xOnly(BIP-86 tweaked key)>}, witness {<schnorr sig>}.
type P2TRKeyPath struct {
	SigHash           txscript.SigHashType // txscript.SigHashDefault when zero.
	DerivationPurpose uint32               // P2TRKeyPathPurpose when zero.
}

// Purpose implements Schema.
func (s P2TRKeyPath) Purpose() uint32 {
	if s.DerivationPurpose != 0 {
		return s.DerivationPurpose
	}

	return P2TRKeyPathPurpose
}

// Tag implements Schema.
func (P2TRKeyPath) Tag() txbuilder.SchemaTag {
	return txbuilder.P2TRKeyPathTag
}

// Sequence implements Schema.
func (P2TRKeyPath) Sequence() uint32 {
	return wire.MaxTxInSequenceNum
}

// ScriptFromKey implements Schema.
func (P2TRKeyPath) ScriptFromKey(pubKey *btcec.PublicKey) ([]byte, error) {
	return utils.P2TRScript(pubKey, nil)
}

// LockOps implements Schema.
func (s P2TRKeyPath) LockOps(params LockParams) ([]txbuilder.LockOp, error) {
	pubKey, err := bundlePubKey(params.Key)
	if err != nil {
		return nil, err
	}

	script, err := s.ScriptFromKey(pubKey)
	if err != nil {
		return nil, err
	}

	return []txbuilder.LockOp{
		txbuilder.SetTapInternalKey{Key: pubKey},
		txbuilder.SetWitnessScript{Script: script},
		txbuilder.InsertTapKeyOrigin{
			Key:         pubKey,
			Fingerprint: params.Key.Origin.Fingerprint,
			Path:        params.Key.Origin.Path,
		},
	}, nil
}

// UnlockOps implements Schema.
func (s P2TRKeyPath) UnlockOps(params UnlockParams) ([]signer.UnlockOp, error) {
	privKey, pubKey, err := bundleKeys(params.Key)
	if err != nil {
		return nil, err
	}

	derivation, err := params.Key.TaprootBip32Derivation()
	if err != nil {
		return nil, err
	}

	return []signer.UnlockOp{
		signer.InsertWitnessUTXO{},
		signer.InsertTapInternalKey{Key: pubKey},
		signer.InsertInputDerivation{Taproot: derivation},
		signer.SignTaprootKeySpend{Key: privKey, SigHash: s.SigHash},
	}, nil
}

// P2TRScriptPath is a segwit v1 schema committing to Huffman tree of weighted leaf scripts:
// {OP_1 <xOnly(internal key tweaked by merkle root)>}. SpendLeaf is spent with the signing key,
// witness {<leaf inputs> <leaf script> <control block>}. Without SpendLeaf internal key owner
// spends with key path, key tweaked by merkle root.
type P2TRScriptPath struct {
	InternalKey       *btcec.PublicKey // derived key is used when nil.
	Scripts           []taptree.WeightedScript
	SpendLeaf         []byte
	Preimages         [][]byte             // SHA256 preimages revealed by SpendLeaf.
	RelativeLock      uint16               // blocks SpendLeaf waits with OP_CHECKSEQUENCEVERIFY.
	SigHash           txscript.SigHashType // txscript.SigHashDefault when zero.
	DerivationPurpose uint32               // P2TRScriptPathPurpose when zero.
}

// Purpose implements Schema.
func (s P2TRScriptPath) Purpose() uint32 {
	if s.DerivationPurpose != 0 {
		return s.DerivationPurpose
	}

	return P2TRScriptPathPurpose
}

// Tag implements Schema.
func (P2TRScriptPath) Tag() txbuilder.SchemaTag {
	return txbuilder.P2TRScriptPathTag
}

// Sequence implements Schema, SpendLeaf under OP_CHECKSEQUENCEVERIFY requires
// input age of RelativeLock blocks (BIP-68).
func (s P2TRScriptPath) Sequence() uint32 {
	if len(s.SpendLeaf) == 0 || s.RelativeLock == 0 {
		return wire.MaxTxInSequenceNum
	}

	return uint32(s.RelativeLock)
}

// Tree returns Huffman tree of the schema scripts.
func (s P2TRScriptPath) Tree() (*taptree.Tree, error) {
	tree, err := taptree.BuildHuffman(s.Scripts)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	return tree, nil
}

// ScriptFromKey implements Schema.
func (s P2TRScriptPath) ScriptFromKey(pubKey *btcec.PublicKey) ([]byte, error) {
	tree, err := s.Tree()
	if err != nil {
		return nil, err
	}

	root := tree.MerkleRoot()
	return utils.P2TRScript(s.internalKey(pubKey), root[:])
}

// LockOps implements Schema, key origin lists leaves checking the key.
func (s P2TRScriptPath) LockOps(params LockParams) ([]txbuilder.LockOp, error) {
	pubKey, err := bundlePubKey(params.Key)
	if err != nil {
		return nil, err
	}

	return []txbuilder.LockOp{
		txbuilder.SetTapInternalKey{Key: s.internalKey(pubKey)},
		txbuilder.SetTapTree{Scripts: s.Scripts},
		txbuilder.InsertTapKeyOrigin{
			Scripts:     s.leavesOf(pubKey),
			Key:         pubKey,
			Fingerprint: params.Key.Origin.Fingerprint,
			Path:        params.Key.Origin.Path,
		},
		txbuilder.FinaliseTapWitness{},
	}, nil
}

// UnlockOps implements Schema.
func (s P2TRScriptPath) UnlockOps(params UnlockParams) ([]signer.UnlockOp, error) {
	privKey, pubKey, err := bundleKeys(params.Key)
	if err != nil {
		return nil, err
	}

	tree, err := s.Tree()
	if err != nil {
		return nil, err
	}

	internalKey := s.internalKey(pubKey)
	if len(s.SpendLeaf) == 0 {
		if !internalKey.IsEqual(pubKey) {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("key path spend requires internal key"))
		}

		derivation, err := params.Key.TaprootBip32Derivation()
		if err != nil {
			return nil, err
		}

		return []signer.UnlockOp{
			signer.InsertWitnessUTXO{},
			signer.InsertTapInternalKey{Key: internalKey},
			signer.InsertTapMerkleRoot{Tree: tree},
			signer.InsertInputDerivation{Taproot: derivation},
			signer.SignTaprootKeySpend{Key: privKey, SigHash: s.SigHash},
		}, nil
	}

	leafHash, err := tree.LeafHash(s.SpendLeaf)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidCommitment, err)
	}

	derivation, err := params.Key.TaprootBip32Derivation(leafHash.CloneBytes())
	if err != nil {
		return nil, err
	}

	ops := []signer.UnlockOp{
		signer.InsertWitnessUTXO{},
		signer.InsertControlBlock{LeafScript: s.SpendLeaf, Tree: tree, InternalKey: internalKey},
	}
	for _, preimage := range s.Preimages {
		ops = append(ops, signer.InsertPreimage{Preimage: preimage})
	}

	return append(ops,
		signer.InsertInputDerivation{Taproot: derivation},
		signer.SignTaprootScriptSpend{Key: privKey, LeafScript: s.SpendLeaf, SigHash: s.SigHash},
	), nil
}

// internalKey returns configured internal key or the derived one.
func (s P2TRScriptPath) internalKey(pubKey *btcec.PublicKey) *btcec.PublicKey {
	if s.InternalKey != nil {
		return s.InternalKey
	}

	return pubKey
}

// leavesOf returns scripts checking the key.
func (s P2TRScriptPath) leavesOf(pubKey *btcec.PublicKey) []taptree.WeightedScript {
	xOnly := schnorr.SerializePubKey(pubKey)

	var leaves []taptree.WeightedScript
	for _, script := range s.Scripts {
		if bytes.Contains(script.Script, xOnly) {
			leaves = append(leaves, script)
		}
	}

	return leaves
}
