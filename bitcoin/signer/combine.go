// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// Combine merges signatures and metadata of PSBTs of the same unsigned transaction,
// returns a new packet. Already present values of the first packet win.
func Combine(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("nothing to combine"))
	}

	combined, err := clonePacket(packets[0])
	if err != nil {
		return nil, err
	}

	txHash := combined.UnsignedTx.TxHash()
	for i, packet := range packets[1:] {
		if packet.UnsignedTx.TxHash() != txHash {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("packet %d spends another transaction", i+1))
		}

		for idx := range packet.Inputs {
			mergeInput(&combined.Inputs[idx], &packet.Inputs[idx])
		}
		combined.XPubs = mergeXPubs(combined.XPubs, packet.XPubs)
		combined.Unknowns = mergeUnknowns(combined.Unknowns, packet.Unknowns)
	}

	return combined, nil
}

// clonePacket returns deep copy of the packet.
func clonePacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	clone, err := psbt.NewFromRawBytes(&buf, false)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	return clone, nil
}

// mergeInput copies into dst values missing there.
func mergeInput(dst, src *InputDescriptor) {
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.SighashType == 0 {
		dst.SighashType = src.SighashType
	}
	if len(dst.WitnessScript) == 0 {
		dst.WitnessScript = src.WitnessScript
	}
	if len(dst.FinalScriptWitness) == 0 {
		dst.FinalScriptWitness = src.FinalScriptWitness
	}
	if len(dst.TaprootKeySpendSig) == 0 {
		dst.TaprootKeySpendSig = src.TaprootKeySpendSig
	}
	if len(dst.TaprootInternalKey) == 0 {
		dst.TaprootInternalKey = src.TaprootInternalKey
	}
	if len(dst.TaprootMerkleRoot) == 0 {
		dst.TaprootMerkleRoot = src.TaprootMerkleRoot
	}

	for _, sig := range src.PartialSigs {
		if !slices.ContainsFunc(dst.PartialSigs, func(s *psbt.PartialSig) bool { return bytes.Equal(s.PubKey, sig.PubKey) }) {
			dst.PartialSigs = append(dst.PartialSigs, sig)
		}
	}
	for _, derivation := range src.Bip32Derivation {
		if !slices.ContainsFunc(dst.Bip32Derivation, func(d *psbt.Bip32Derivation) bool { return bytes.Equal(d.PubKey, derivation.PubKey) }) {
			dst.Bip32Derivation = append(dst.Bip32Derivation, derivation)
		}
	}
	for _, sig := range src.TaprootScriptSpendSig {
		if !slices.ContainsFunc(dst.TaprootScriptSpendSig, func(s *psbt.TaprootScriptSpendSig) bool {
			return bytes.Equal(s.XOnlyPubKey, sig.XOnlyPubKey) && bytes.Equal(s.LeafHash, sig.LeafHash)
		}) {
			dst.TaprootScriptSpendSig = append(dst.TaprootScriptSpendSig, sig)
		}
	}
	for _, leaf := range src.TaprootLeafScript {
		if !slices.ContainsFunc(dst.TaprootLeafScript, func(l *psbt.TaprootTapLeafScript) bool { return bytes.Equal(l.ControlBlock, leaf.ControlBlock) }) {
			dst.TaprootLeafScript = append(dst.TaprootLeafScript, leaf)
		}
	}
	for _, derivation := range src.TaprootBip32Derivation {
		if !slices.ContainsFunc(dst.TaprootBip32Derivation, func(d *psbt.TaprootBip32Derivation) bool {
			return bytes.Equal(d.XOnlyPubKey, derivation.XOnlyPubKey)
		}) {
			dst.TaprootBip32Derivation = append(dst.TaprootBip32Derivation, derivation)
		}
	}

	dst.Unknowns = mergeUnknowns(dst.Unknowns, src.Unknowns)
}

// mergeXPubs appends src global xpubs missing in dst.
func mergeXPubs(dst, src []psbt.XPub) []psbt.XPub {
	for _, xpub := range src {
		if !slices.ContainsFunc(dst, func(x psbt.XPub) bool { return bytes.Equal(x.ExtendedKey, xpub.ExtendedKey) }) {
			dst = append(dst, xpub)
		}
	}

	return dst
}

// mergeUnknowns appends src records with keys missing in dst.
func mergeUnknowns(dst, src []*psbt.Unknown) []*psbt.Unknown {
	for _, unknown := range src {
		if !slices.ContainsFunc(dst, func(u *psbt.Unknown) bool { return bytes.Equal(u.Key, unknown.Key) }) {
			dst = append(dst, unknown)
		}
	}

	return dst
}
