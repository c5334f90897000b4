// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/taptree"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

func testKey(name string) *btcec.PrivateKey {
	secret := sha256.Sum256([]byte(name))
	privateKey, _ := btcec.PrivKeyFromBytes(secret[:])

	return privateKey
}

// fundingTx returns previous transaction paying value to pkScript at output 0.
func fundingTx(seed byte, pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// spendingPacket returns PSBT spending output 0 of every previous transaction.
func spendingPacket(t *testing.T, prevTxs ...*wire.MsgTx) *psbt.Packet {
	tx := wire.NewMsgTx(txbuilder.TxVersion)
	var total int64
	for _, prevTx := range prevTxs {
		prevHash := prevTx.TxHash()
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
		total += prevTx.TxOut[0].Value
	}

	receiver, err := utils.P2TRScript(testKey("receiver").PubKey(), nil)
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(total-1000, receiver))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	return packet
}

func prevOutputs(prevTxs ...*wire.MsgTx) []*wire.TxOut {
	prevOuts := make([]*wire.TxOut, len(prevTxs))
	for i, prevTx := range prevTxs {
		prevOuts[i] = prevTx.TxOut[0]
	}

	return prevOuts
}

// finalizeAndVerify finalises packet and executes extracted transaction.
func finalizeAndVerify(t *testing.T, packet *psbt.Packet, prevTxs ...*wire.MsgTx) *wire.MsgTx {
	require.NoError(t, signer.Finalize(packet))

	tx, err := signer.Extract(packet)
	require.NoError(t, err)
	require.NoError(t, signer.VerifyTx(tx, prevOutputs(prevTxs...)))

	return tx
}

func serialize(t *testing.T, packet *psbt.Packet) []byte {
	var buf bytes.Buffer
	require.NoError(t, packet.Serialize(&buf))

	return buf.Bytes()
}

func parse(t *testing.T, serialized []byte) *psbt.Packet {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(serialized), false)
	require.NoError(t, err)

	return packet
}

func TestP2WPKH(t *testing.T) {
	key := testKey("p2wpkh")
	pkScript, err := utils.P2WPKHScript(key.PubKey())
	require.NoError(t, err)

	prevTx := fundingTx(1, pkScript, 100000)
	packet := spendingPacket(t, prevTx)

	ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
	require.NoError(t, err)

	err = signer.ApplyUnlocks(ctx, 0,
		signer.InsertNonWitnessUTXO{},
		signer.InsertWitnessUTXO{},
		signer.SignECDSASegwitV0{Key: key, SigHash: txscript.SigHashAll},
	)
	require.NoError(t, err)

	input := packet.Inputs[0]
	require.Equal(t, prevTx, input.NonWitnessUtxo)
	require.Equal(t, prevTx.TxOut[0], input.WitnessUtxo)
	require.Len(t, input.PartialSigs, 1)

	t.Run("signature verifies", func(t *testing.T) {
		sig := input.PartialSigs[0].Signature
		require.Equal(t, byte(txscript.SigHashAll), sig[len(sig)-1])

		hash, err := ctx.SegwitV0Sighash(0, pkScript, txscript.SigHashAll)
		require.NoError(t, err)

		parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
		require.NoError(t, err)
		require.True(t, parsed.Verify(hash, key.PubKey()))
	})

	t.Run("sighash determinism", func(t *testing.T) {
		other, err := signer.NewUnlockContext(spendingPacket(t, prevTx), []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		first, err := ctx.SegwitV0Sighash(0, pkScript, txscript.SigHashAll)
		require.NoError(t, err)
		second, err := other.SegwitV0Sighash(0, pkScript, txscript.SigHashAll)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("finalize", func(t *testing.T) {
		sig := input.PartialSigs[0].Signature
		tx := finalizeAndVerify(t, packet, prevTx)

		require.Equal(t, wire.TxWitness{sig, key.PubKey().SerializeCompressed()}, tx.TxIn[0].Witness)
		require.Empty(t, packet.Inputs[0].PartialSigs)
	})

	t.Run("foreign key", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0,
			signer.InsertWitnessUTXO{},
			signer.SignECDSASegwitV0{Key: testKey("stranger"), SigHash: txscript.SigHashAll},
		)
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})

	t.Run("missing witness utxo", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0, signer.SignECDSASegwitV0{Key: key, SigHash: txscript.SigHashAll})
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})
}

func TestTaprootKeySpend(t *testing.T) {
	key := testKey("p2tr")
	pkScript, err := utils.P2TRScript(key.PubKey(), nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		sigHash txscript.SigHashType
		sigLen  int
	}{
		{name: "default", sigHash: txscript.SigHashDefault, sigLen: 64},
		{name: "all", sigHash: txscript.SigHashAll, sigLen: 65},
		{name: "all anyone can pay", sigHash: txscript.SigHashAll | txscript.SigHashAnyOneCanPay, sigLen: 65},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			prevTx := fundingTx(2, pkScript, 200000)
			packet := spendingPacket(t, prevTx)

			ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
			require.NoError(t, err)

			err = signer.ApplyUnlocks(ctx, 0,
				signer.InsertWitnessUTXO{},
				signer.InsertTapInternalKey{Key: key.PubKey()},
				signer.SignTaprootKeySpend{Key: key, SigHash: test.sigHash},
			)
			require.NoError(t, err)

			sig := packet.Inputs[0].TaprootKeySpendSig
			require.Len(t, sig, test.sigLen)
			require.Equal(t, schnorr.SerializePubKey(key.PubKey()), packet.Inputs[0].TaprootInternalKey)

			hash, err := ctx.TaprootKeySpendSighash(0, test.sigHash)
			require.NoError(t, err)

			parsed, err := schnorr.ParseSignature(sig[:64])
			require.NoError(t, err)
			require.True(t, parsed.Verify(hash, utils.TaprootOutputKey(key.PubKey(), nil)))

			tx := finalizeAndVerify(t, packet, prevTx)
			require.Equal(t, wire.TxWitness{sig}, tx.TxIn[0].Witness)
		})
	}

	t.Run("foreign key", func(t *testing.T) {
		prevTx := fundingTx(2, pkScript, 200000)
		packet := spendingPacket(t, prevTx)

		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0,
			signer.InsertWitnessUTXO{},
			signer.SignTaprootKeySpend{Key: testKey("stranger")},
		)
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})
}

func TestTaprootScriptSpend(t *testing.T) {
	var (
		internal = testKey("internal")
		alice    = testKey("alice")
		bob      = testKey("bob")
		preimage = bytes.Repeat([]byte{0x42}, 32)

		aliceLeaf = utils.MustScript(utils.CheckSingleSig(alice.PubKey()))
		bobLeaf   = utils.MustScript(utils.HashLock(bob.PubKey(), preimage))
		jointLeaf = utils.MustScript(utils.Check2Of2(alice.PubKey(), bob.PubKey()))
	)

	tree, err := taptree.BuildHuffman([]taptree.WeightedScript{
		{Weight: 1, Script: aliceLeaf},
		{Weight: 1, Script: bobLeaf},
		{Weight: 2, Script: jointLeaf},
	})
	require.NoError(t, err)

	root := tree.MerkleRoot()
	pkScript, err := utils.P2TRScript(internal.PubKey(), root[:])
	require.NoError(t, err)

	newContext := func(t *testing.T) (*signer.UnlockContext, *psbt.Packet, *wire.MsgTx) {
		prevTx := fundingTx(3, pkScript, 50000)
		packet := spendingPacket(t, prevTx)

		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)
		require.NoError(t, signer.ApplyUnlocks(ctx, 0, signer.InsertWitnessUTXO{}))

		return ctx, packet, prevTx
	}

	t.Run("hash lock leaf", func(t *testing.T) {
		ctx, packet, prevTx := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: bobLeaf, Tree: tree, InternalKey: internal.PubKey()},
			signer.InsertPreimage{Preimage: preimage},
			signer.SignTaprootScriptSpend{Key: bob, LeafScript: bobLeaf, SigHash: txscript.SigHashDefault},
		)
		require.NoError(t, err)

		input := packet.Inputs[0]
		require.Len(t, input.TaprootLeafScript, 1)
		require.Equal(t, root[:], input.TaprootMerkleRoot)
		for _, leaf := range input.TaprootLeafScript {
			require.NoError(t, taptree.VerifyControlBlock(leaf.ControlBlock, pkScript, leaf.Script))
		}

		require.Len(t, input.TaprootScriptSpendSig, 1)
		sig := input.TaprootScriptSpendSig[0]
		hash, err := ctx.TapscriptSighash(0, bobLeaf, txscript.SigHashDefault)
		require.NoError(t, err)

		parsed, err := schnorr.ParseSignature(sig.Signature)
		require.NoError(t, err)
		require.True(t, parsed.Verify(hash, bob.PubKey()))

		controlBlock := input.TaprootLeafScript[0].ControlBlock
		tx := finalizeAndVerify(t, packet, prevTx)
		require.Equal(t, wire.TxWitness{sig.Signature, preimage, bobLeaf, controlBlock}, tx.TxIn[0].Witness)
	})

	t.Run("2-of-2 leaf", func(t *testing.T) {
		ctx, packet, prevTx := newContext(t)

		sigHash := txscript.SigHashAll | txscript.SigHashAnyOneCanPay
		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: jointLeaf, Tree: tree, InternalKey: internal.PubKey()},
			signer.SignTaprootScriptSpend{Key: bob, LeafScript: jointLeaf, SigHash: sigHash},
			signer.SignTaprootScriptSpend{Key: alice, LeafScript: jointLeaf, SigHash: sigHash},
		)
		require.NoError(t, err)

		tx := finalizeAndVerify(t, packet, prevTx)
		witness := tx.TxIn[0].Witness
		require.Len(t, witness, 4)
		require.Len(t, witness[0], 65)
		require.Len(t, witness[1], 65)
		require.Equal(t, byte(sigHash), witness[0][64])
		require.Equal(t, jointLeaf, witness[2])
	})

	t.Run("missing preimage", func(t *testing.T) {
		ctx, packet, _ := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: bobLeaf, Tree: tree, InternalKey: internal.PubKey()},
			signer.SignTaprootScriptSpend{Key: bob, LeafScript: bobLeaf},
		)
		require.NoError(t, err)
		require.ErrorIs(t, signer.Finalize(packet), bitcoin.ErrFinalisation)
	})

	t.Run("missing co-signer", func(t *testing.T) {
		ctx, packet, _ := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: jointLeaf, Tree: tree, InternalKey: internal.PubKey()},
			signer.SignTaprootScriptSpend{Key: alice, LeafScript: jointLeaf},
		)
		require.NoError(t, err)
		require.ErrorIs(t, signer.Finalize(packet), bitcoin.ErrFinalisation)
	})

	t.Run("wrong internal key", func(t *testing.T) {
		ctx, _, _ := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: bobLeaf, Tree: tree, InternalKey: alice.PubKey()},
		)
		require.ErrorIs(t, err, bitcoin.ErrInvalidCommitment)
	})

	t.Run("leaf not in tree", func(t *testing.T) {
		ctx, _, _ := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: utils.MustScript(utils.Delay(alice.PubKey())), Tree: tree, InternalKey: internal.PubKey()},
		)
		require.ErrorIs(t, err, bitcoin.ErrInvalidCommitment)
	})

	t.Run("key not in leaf", func(t *testing.T) {
		ctx, _, _ := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.SignTaprootScriptSpend{Key: alice, LeafScript: bobLeaf},
		)
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})

	t.Run("internal key spend", func(t *testing.T) {
		ctx, packet, prevTx := newContext(t)

		err := signer.ApplyUnlocks(ctx, 0,
			signer.InsertControlBlock{LeafScript: aliceLeaf, Tree: tree, InternalKey: internal.PubKey()},
			signer.SignTaprootKeySpend{Key: internal},
		)
		require.NoError(t, err)

		packet.Inputs[0].TaprootLeafScript = nil
		finalizeAndVerify(t, packet, prevTx)
	})
}

func TestP2WSHMultisig(t *testing.T) {
	var (
		first  = testKey("first co-signer")
		second = testKey("second co-signer")
		s      = signer.NewSigner(&chaincfg.RegressionNetParams)
	)

	redeem, err := utils.MultiSigRedeemScript(2, first.PubKey(), second.PubKey())
	require.NoError(t, err)
	pkScript, err := utils.P2WSHScript(redeem)
	require.NoError(t, err)

	prevTx := fundingTx(4, pkScript, 70000)

	unsigned := func(t *testing.T) []byte {
		packet := spendingPacket(t, prevTx)
		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0,
			signer.InsertWitnessUTXO{},
			signer.SetInputWitnessScript{Script: redeem},
		)
		require.NoError(t, err)

		tags, err := txbuilder.SchemaTagUnknowns(map[txbuilder.SchemaTag][]int{txbuilder.P2WSHTag: {0}})
		require.NoError(t, err)
		packet.Unknowns = append(packet.Unknowns, tags...)

		return serialize(t, packet)
	}

	sign := func(t *testing.T, serialized []byte, key *btcec.PrivateKey) []byte {
		signed, err := s.SignPSBT(signer.SignParams{
			SerializedPSBT: serialized,
			Tag:            txbuilder.P2WSHTag,
			Unlocks:        []signer.UnlockOp{signer.SignECDSASegwitV0{Key: key, SigHash: txscript.SigHashAll}},
		})
		require.NoError(t, err)

		return signed
	}

	expectWitness := func(t *testing.T, tx *wire.MsgTx) {
		witness := tx.TxIn[0].Witness
		require.Len(t, witness, 4)
		require.Empty(t, witness[0])
		require.Equal(t, redeem, witness[3])

		for i, key := range []*btcec.PrivateKey{first, second} {
			parsed, err := ecdsa.ParseDERSignature(witness[i+1][:len(witness[i+1])-1])
			require.NoError(t, err)

			packet := spendingPacket(t, prevTx)
			ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
			require.NoError(t, err)
			hash, err := ctx.SegwitV0Sighash(0, redeem, txscript.SigHashAll)
			require.NoError(t, err)
			require.True(t, parsed.Verify(hash, key.PubKey()))
		}
	}

	t.Run("sequential", func(t *testing.T) {
		signed := sign(t, sign(t, unsigned(t), second), first)

		tx := finalizeAndVerify(t, parse(t, signed), prevTx)
		expectWitness(t, tx)
	})

	t.Run("combine", func(t *testing.T) {
		base := unsigned(t)
		fromFirst := parse(t, sign(t, base, first))
		fromSecond := parse(t, sign(t, base, second))

		combined, err := signer.Combine(fromFirst, fromSecond)
		require.NoError(t, err)
		require.Len(t, combined.Inputs[0].PartialSigs, 2)
		require.Len(t, fromFirst.Inputs[0].PartialSigs, 1)

		tx := finalizeAndVerify(t, combined, prevTx)
		expectWitness(t, tx)
	})

	t.Run("one signature", func(t *testing.T) {
		packet := parse(t, sign(t, unsigned(t), first))
		require.ErrorIs(t, signer.Finalize(packet), bitcoin.ErrFinalisation)
	})

	t.Run("combine another transaction", func(t *testing.T) {
		_, err := signer.Combine(parse(t, unsigned(t)), spendingPacket(t, fundingTx(5, pkScript, 1000)))
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})

	t.Run("combine global xpubs", func(t *testing.T) {
		seed := keys.MustParseSeed("8c2d1b3d0e5a1f7e6d4c3b2a19080706f5e4d3c2b1a09f8e7d6c5b4a39281706")
		xpub := func(t *testing.T, index uint32) psbt.XPub {
			bundle, err := keys.Derive(seed, &chaincfg.RegressionNetParams, keys.DeriveParams{Purpose: 48, Index: index})
			require.NoError(t, err)

			return bundle.XPub()
		}

		base := unsigned(t)
		fromFirst := parse(t, sign(t, base, first))
		fromFirst.XPubs = []psbt.XPub{xpub(t, 0)}
		fromSecond := parse(t, sign(t, base, second))
		fromSecond.XPubs = []psbt.XPub{xpub(t, 1), xpub(t, 0)}

		combined, err := signer.Combine(fromFirst, fromSecond)
		require.NoError(t, err)
		require.Len(t, combined.XPubs, 2)
		require.Equal(t, xpub(t, 0).ExtendedKey, combined.XPubs[0].ExtendedKey)
		require.Equal(t, xpub(t, 1).ExtendedKey, combined.XPubs[1].ExtendedKey)
		require.Equal(t, xpub(t, 1).Bip32Path, combined.XPubs[1].Bip32Path)

		reparsed := parse(t, serialize(t, combined))
		require.Len(t, reparsed.XPubs, 2)
	})

	t.Run("untagged schema", func(t *testing.T) {
		_, err := s.SignPSBT(signer.SignParams{
			SerializedPSBT: unsigned(t),
			Tag:            txbuilder.P2TRKeyPathTag,
			Unlocks:        []signer.UnlockOp{signer.SignECDSASegwitV0{Key: first, SigHash: txscript.SigHashAll}},
		})
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})

	t.Run("witness script mismatch", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0, signer.SetInputWitnessScript{Script: utils.MustScript(utils.CheckSingleSig(first.PubKey()))})
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})
}

func TestFinalizeErrors(t *testing.T) {
	key := testKey("p2tr")
	pkScript, err := utils.P2TRScript(key.PubKey(), nil)
	require.NoError(t, err)

	prevTx := fundingTx(6, pkScript, 10000)

	t.Run("unsigned", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		require.ErrorIs(t, signer.Finalize(packet), bitcoin.ErrFinalisation)

		_, err := signer.Extract(packet)
		require.ErrorIs(t, err, bitcoin.ErrFinalisation)
	})

	t.Run("mixed disciplines", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		ctx, err := signer.NewUnlockContext(packet, []*wire.MsgTx{prevTx})
		require.NoError(t, err)

		err = signer.ApplyUnlocks(ctx, 0, signer.InsertWitnessUTXO{}, signer.SignTaprootKeySpend{Key: key})
		require.NoError(t, err)

		packet.Inputs[0].PartialSigs = []*psbt.PartialSig{{PubKey: key.PubKey().SerializeCompressed(), Signature: []byte{0x30}}}
		require.ErrorIs(t, signer.Finalize(packet), bitcoin.ErrFinalisation)
	})

	t.Run("invalid signature", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		packet.Inputs[0].TaprootKeySpendSig = bytes.Repeat([]byte{0x01}, 64)
		require.NoError(t, signer.Finalize(packet))

		tx, err := signer.Extract(packet)
		require.NoError(t, err)
		require.ErrorIs(t, signer.VerifyTx(tx, prevOutputs(prevTx)), bitcoin.ErrFinalisation)
	})
}

func TestUnlockContext(t *testing.T) {
	key := testKey("p2wpkh")
	pkScript, err := utils.P2WPKHScript(key.PubKey())
	require.NoError(t, err)

	prevTx := fundingTx(7, pkScript, 10000)

	t.Run("misaligned previous transactions", func(t *testing.T) {
		_, err := signer.NewUnlockContext(spendingPacket(t, prevTx), nil)
		require.ErrorIs(t, err, bitcoin.ErrSighash)

		_, err = signer.NewUnlockContext(spendingPacket(t, prevTx), []*wire.MsgTx{fundingTx(8, pkScript, 10000)})
		require.ErrorIs(t, err, bitcoin.ErrSighash)
	})

	t.Run("missing witness utxo", func(t *testing.T) {
		_, err := signer.NewUnlockContextFromPacket(spendingPacket(t, prevTx))
		require.ErrorIs(t, err, bitcoin.ErrSighash)
	})

	t.Run("input out of range", func(t *testing.T) {
		ctx, err := signer.NewUnlockContext(spendingPacket(t, prevTx), []*wire.MsgTx{prevTx})
		require.NoError(t, err)
		require.ErrorIs(t, signer.ApplyUnlocks(ctx, 1, signer.InsertWitnessUTXO{}), bitcoin.ErrInvariantViolation)
	})

	t.Run("previous transaction unavailable", func(t *testing.T) {
		packet := spendingPacket(t, prevTx)
		packet.Inputs[0].WitnessUtxo = prevTx.TxOut[0]

		ctx, err := signer.NewUnlockContextFromPacket(packet)
		require.NoError(t, err)
		require.ErrorIs(t, signer.ApplyUnlocks(ctx, 0, signer.InsertNonWitnessUTXO{}), bitcoin.ErrInvariantViolation)
	})
}
