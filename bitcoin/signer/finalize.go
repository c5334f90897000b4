// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
	"github.com/BoostyLabs/btcpipeline/internal/reverse"
)

// Finalize writes final script witness of every PSBT input.
func Finalize(packet *psbt.Packet) error {
	for i := range packet.Inputs {
		if err := FinalizeInput(packet, i); err != nil {
			return err
		}
	}

	return nil
}

// FinalizeInput builds input witness from its populated fields:
//
//	┌──────────────────────────────────┬─────────────────────────────────────────────────┐
//	│            populated             │                witness layout                   │
//	├==================================┼=================================================┤
//	│ partial sigs                     │ <sig> <pubkey>                                  │
//	├──────────────────────────────────┼─────────────────────────────────────────────────┤
//	│ partial sigs + witness script    │ <> <sig1> ... <sigm> <witness script>           │
//	├──────────────────────────────────┼─────────────────────────────────────────────────┤
//	│ tap key sig                      │ <sig>                                           │
//	├──────────────────────────────────┼─────────────────────────────────────────────────┤
//	│ tap script sigs + tap leaf       │ <leaf inputs in reverse consumption order>      │
//	│ scripts                          │ <leaf script> <control block>                   │
//	└──────────────────────────────────┴─────────────────────────────────────────────────┘
func FinalizeInput(packet *psbt.Packet, index int) error {
	if index < 0 || index >= len(packet.Inputs) {
		return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d out of range", index))
	}

	input := &packet.Inputs[index]
	if len(input.FinalScriptWitness) != 0 {
		return nil
	}

	var (
		ecdsa       = len(input.PartialSigs) != 0
		keySpend    = len(input.TaprootKeySpendSig) != 0
		scriptSpend = len(input.TaprootScriptSpendSig) != 0
		disciplines int
	)
	for _, populated := range []bool{ecdsa, keySpend, scriptSpend} {
		if populated {
			disciplines++
		}
	}
	switch {
	case disciplines == 0:
		return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d is not signed", index))
	case disciplines > 1:
		return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d mixes signing disciplines", index))
	}

	var (
		witness wire.TxWitness
		err     error
	)
	switch {
	case ecdsa && len(input.WitnessScript) == 0:
		witness, err = p2wpkhWitness(input)
	case ecdsa:
		witness, err = multiSigWitness(input)
	case keySpend:
		witness = wire.TxWitness{input.TaprootKeySpendSig}
	default:
		witness, err = scriptSpendWitness(input)
	}
	if err != nil {
		return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d: %w", index, err))
	}

	serialized, err := serializeWitness(witness)
	if err != nil {
		return errors.Join(bitcoin.ErrFinalisation, err)
	}

	clearSigningFields(input)
	input.FinalScriptWitness = serialized

	return nil
}

// Extract returns network-ready transaction of finalised PSBT.
func Extract(packet *psbt.Packet) (*wire.MsgTx, error) {
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrFinalisation, err)
	}

	return tx, nil
}

// VerifyTx executes every input witness against the spent output script.
func VerifyTx(tx *wire.MsgTx, prevOuts []*wire.TxOut) error {
	if len(prevOuts) != len(tx.TxIn) {
		return errors.Join(bitcoin.ErrFinalisation, errors.New("previous outputs are not aligned with inputs"))
	}

	prevOutputFetcherMap := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, in := range tx.TxIn {
		prevOutputFetcherMap[in.PreviousOutPoint] = prevOuts[i]
	}

	var (
		fetcher   = txscript.NewMultiPrevOutFetcher(prevOutputFetcherMap)
		sigHashes = txscript.NewTxSigHashes(tx, fetcher)
	)
	for i := range tx.TxIn {
		engine, err := txscript.NewEngine(prevOuts[i].PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOuts[i].Value, fetcher)
		if err != nil {
			return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d: %w", i, err))
		}

		if err = engine.Execute(); err != nil {
			return errors.Join(bitcoin.ErrFinalisation, fmt.Errorf("input %d: %w", i, err))
		}
	}

	return nil
}

// p2wpkhWitness returns {<sig> <pubkey>}.
func p2wpkhWitness(input *InputDescriptor) (wire.TxWitness, error) {
	if len(input.PartialSigs) != 1 {
		return nil, fmt.Errorf("expected one signature, got %d", len(input.PartialSigs))
	}

	sig := input.PartialSigs[0]
	if input.WitnessUtxo != nil {
		script := input.WitnessUtxo.PkScript
		if !txscript.IsPayToWitnessPubKeyHash(script) || !bytes.Equal(script[2:], btcutil.Hash160(sig.PubKey)) {
			return nil, errors.New("signature key does not control spent output")
		}
	}

	return wire.TxWitness{sig.Signature, sig.PubKey}, nil
}

// multiSigWitness returns {<> <sig1> ... <sigm> <witness script>} with signatures in script keys order.
func multiSigWitness(input *InputDescriptor) (wire.TxWitness, error) {
	script := input.WitnessScript
	if txscript.GetScriptClass(script) != txscript.MultiSigTy {
		return nil, errors.New("witness script is not a multisig script")
	}
	if input.WitnessUtxo != nil {
		expected, err := utils.P2WSHScript(script)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(expected, input.WitnessUtxo.PkScript) {
			return nil, errors.New("spent output does not commit to witness script")
		}
	}

	_, required, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return nil, err
	}

	witness := wire.TxWitness{nil}
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() && len(witness)-1 < required {
		pubKey := tokenizer.Data()
		if len(pubKey) == 0 {
			continue
		}

		for _, sig := range input.PartialSigs {
			if bytes.Equal(sig.PubKey, pubKey) {
				witness = append(witness, sig.Signature)
				break
			}
		}
	}
	if err = tokenizer.Err(); err != nil {
		return nil, err
	}
	if len(witness)-1 < required {
		return nil, fmt.Errorf("got %d of %d required signatures", len(witness)-1, required)
	}

	return append(witness, script), nil
}

// scriptSpendWitness returns witness of the first leaf script satisfied by input signatures and preimages.
func scriptSpendWitness(input *InputDescriptor) (wire.TxWitness, error) {
	if len(input.TaprootLeafScript) == 0 {
		return nil, errors.New("no tap leaf script")
	}

	var err error
	for _, leaf := range input.TaprootLeafScript {
		var stack [][]byte
		stack, err = satisfyLeaf(input, leaf)
		if err != nil {
			continue
		}

		return append(stack, leaf.Script, leaf.ControlBlock), nil
	}

	return nil, err
}

// satisfyLeaf walks leaf script and collects items it consumes from the witness stack,
// returns them ordered as witness stack items.
func satisfyLeaf(input *InputDescriptor, leaf *psbt.TaprootTapLeafScript) ([][]byte, error) {
	var (
		leafHash      = txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()
		consumed      [][]byte
		prevData      []byte
		awaitingImage bool
	)

	tokenizer := txscript.MakeScriptTokenizer(0, leaf.Script)
	for tokenizer.Next() {
		opcode, data := tokenizer.Opcode(), tokenizer.Data()

		switch {
		case opcode == txscript.OP_SHA256:
			awaitingImage = true
		case awaitingImage && len(data) == 32:
			image, ok := preimage(input, data)
			if !ok {
				return nil, fmt.Errorf("missing preimage of %x", data)
			}

			consumed = append(consumed, image)
			awaitingImage = false
		case opcode == txscript.OP_CHECKSIG || opcode == txscript.OP_CHECKSIGVERIFY || opcode == txscript.OP_CHECKSIGADD:
			sig, err := leafSignature(input, prevData, leafHash[:])
			if err != nil {
				return nil, err
			}

			consumed = append(consumed, sig)
		}

		prevData = data
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return reverse.Slice(consumed), nil
}

// leafSignature returns serialized schnorr signature of x-only key for leaf.
func leafSignature(input *InputDescriptor, xOnly, leafHash []byte) ([]byte, error) {
	if len(xOnly) != 32 {
		return nil, errors.New("signature check of non x-only key")
	}

	for _, sig := range input.TaprootScriptSpendSig {
		if !bytes.Equal(sig.XOnlyPubKey, xOnly) || !bytes.Equal(sig.LeafHash, leafHash) {
			continue
		}

		if sig.SigHash == txscript.SigHashDefault {
			return sig.Signature, nil
		}

		return append(append([]byte(nil), sig.Signature...), byte(sig.SigHash)), nil
	}

	return nil, fmt.Errorf("missing signature of %x", xOnly)
}

// serializeWitness encodes witness stack as PSBT final script witness.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}

	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// clearSigningFields drops data made redundant by final script witness.
func clearSigningFields(input *InputDescriptor) {
	input.PartialSigs = nil
	input.SighashType = 0
	input.RedeemScript = nil
	input.WitnessScript = nil
	input.Bip32Derivation = nil
	input.TaprootKeySpendSig = nil
	input.TaprootScriptSpendSig = nil
	input.TaprootLeafScript = nil
	input.TaprootBip32Derivation = nil
	input.TaprootInternalKey = nil
	input.TaprootMerkleRoot = nil
}
