// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package pipeline_test

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/chain/memory"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/pipeline"
	"github.com/BoostyLabs/btcpipeline/bitcoin/schemas"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/taptree"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

const (
	seed        = "1d454c6ab705f999d97e6465300a79a9595fb5ae1186ae20e33e12bea606c094"
	cosignSeed  = "5b0a3e6c2f9d8e7a1c4b3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6c5d4e3f2a"
	destination = "bcrt1prnpxwf9tpjm4jll4ts72s2xscq66qxep6w9hf6sqnvwe9t4gvqasklfhyj"
	preimageHex = "107661134f21fc7c02223d50ab9eb3600bc3ffc3712423a1e47bb1f9a9dbf55f"
)

var params = &chaincfg.RegressionNetParams

func derive(t *testing.T, seed string, deriveParams keys.DeriveParams) (*keys.KeyBundle, *btcec.PublicKey) {
	bundle, err := keys.Derive(keys.MustParseSeed(seed), params, deriveParams)
	require.NoError(t, err)

	pubKey, err := bundle.PubKey()
	require.NoError(t, err)

	return bundle, pubKey
}

// fund registers output paying value to pkScript in provider, returns funding transaction.
func fund(t *testing.T, provider *memory.Provider, seed byte, pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	require.NoError(t, provider.AddUnspent(tx, 0))

	return tx
}

func receiver(t *testing.T) *txbuilder.Destination {
	dest, err := txbuilder.NewDestination(destination, params)
	require.NoError(t, err)

	return dest
}

// run constructs, finalises and broadcasts transaction.
func run(t *testing.T, provider *memory.Provider, constructParams pipeline.ConstructParams) *wire.MsgTx {
	ctx := context.Background()
	p := pipeline.New(provider, params)

	construction, err := p.Construct(ctx, constructParams)
	require.NoError(t, err)

	tx, err := p.Finalise(construction)
	require.NoError(t, err)

	txHash, err := p.Broadcast(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *txHash)

	return tx
}

func TestP2WPKHSend(t *testing.T) {
	bundle, pubKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose})

	pkScript, err := schemas.P2WPKH{}.ScriptFromKey(pubKey)
	require.NoError(t, err)

	provider := memory.New(100)
	fund(t, provider, 1, pkScript, 100000)

	dest := receiver(t)
	tx := run(t, provider, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{dest.LockOps()},
		Schema:    schemas.P2WPKH{},
		Key:       bundle,
	})

	require.Equal(t, txbuilder.TxVersion, tx.Version)
	require.Zero(t, tx.LockTime)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(99900), tx.TxOut[0].Value)
	require.Equal(t, dest.Script(), tx.TxOut[0].PkScript)

	witness := tx.TxIn[0].Witness
	require.Len(t, witness, 2)
	require.Equal(t, byte(txscript.SigHashAll), witness[0][len(witness[0])-1])
	require.Equal(t, pubKey.SerializeCompressed(), witness[1])
	require.Empty(t, tx.TxIn[0].SignatureScript)

	require.Len(t, provider.Broadcasts(), 1)
}

func TestP2TRKeyPathSend(t *testing.T) {
	bundle, pubKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRKeyPathPurpose})

	pkScript, err := schemas.P2TRKeyPath{}.ScriptFromKey(pubKey)
	require.NoError(t, err)

	provider := memory.New(3551)
	fund(t, provider, 2, pkScript, 200000)

	tx := run(t, provider, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		Schema:    schemas.P2TRKeyPath{},
		Key:       bundle,
	})

	require.Equal(t, int64(196449), tx.TxOut[0].Value)
	require.Len(t, tx.TxIn[0].Witness, 1)
	require.Len(t, tx.TxIn[0].Witness[0], 64)
}

func TestP2TRScriptPathSend(t *testing.T) {
	var (
		_, alice       = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 0})
		bobBundle, bob = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 1})
		_, internal    = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 2})
	)

	preimage, err := hex.DecodeString(preimageHex)
	require.NoError(t, err)

	var (
		aliceLeaf = utils.MustScript(utils.Delay(alice))
		bobLeaf   = utils.MustScript(utils.HashLock(bob, preimage))
		schema    = schemas.P2TRScriptPath{
			InternalKey: internal,
			Scripts:     []taptree.WeightedScript{{Weight: 1, Script: aliceLeaf}, {Weight: 1, Script: bobLeaf}},
			SpendLeaf:   bobLeaf,
			Preimages:   [][]byte{preimage},
			SigHash:     txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
		}
	)

	pkScript, err := schema.ScriptFromKey(bob)
	require.NoError(t, err)

	provider := memory.New(500)
	fund(t, provider, 3, pkScript, 50000)

	tx := run(t, provider, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		Schema:    schema,
		Key:       bobBundle,
	})

	witness := tx.TxIn[0].Witness
	require.Len(t, witness, 4)
	require.Len(t, witness[0], 65)
	require.Equal(t, preimage, witness[1])
	require.Equal(t, bobLeaf, witness[2])
	require.NoError(t, taptree.VerifyControlBlock(witness[3], pkScript, bobLeaf))
	require.Equal(t, uint32(wire.MaxTxInSequenceNum), tx.TxIn[0].Sequence)
}

func TestP2TRDelayLeafSend(t *testing.T) {
	var (
		aliceBundle, alice = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 0})
		_, bob             = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 1})
		_, internal        = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2TRScriptPathPurpose, Index: 2})
	)

	preimage, err := hex.DecodeString(preimageHex)
	require.NoError(t, err)

	var (
		aliceLeaf = utils.MustScript(utils.Delay(alice))
		bobLeaf   = utils.MustScript(utils.HashLock(bob, preimage))
		schema    = schemas.P2TRScriptPath{
			InternalKey:  internal,
			Scripts:      []taptree.WeightedScript{{Weight: 1, Script: aliceLeaf}, {Weight: 1, Script: bobLeaf}},
			SpendLeaf:    aliceLeaf,
			RelativeLock: utils.DelayBlocks,
		}
	)

	pkScript, err := schema.ScriptFromKey(alice)
	require.NoError(t, err)

	t.Run("relative lock not set", func(t *testing.T) {
		schema := schema
		schema.RelativeLock = 0

		provider := memory.New(500)
		fund(t, provider, 6, pkScript, 50000)

		_, err := pipeline.New(provider, params).Send(context.Background(), pipeline.ConstructParams{
			Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
			Schema:    schema,
			Key:       aliceBundle,
		})
		require.ErrorIs(t, err, bitcoin.ErrFinalisation)
		require.Empty(t, provider.Broadcasts())
	})

	provider := memory.New(500)
	fund(t, provider, 6, pkScript, 50000)

	tx := run(t, provider, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		Schema:    schema,
		Key:       aliceBundle,
	})

	require.Equal(t, uint32(utils.DelayBlocks), tx.TxIn[0].Sequence)
	witness := tx.TxIn[0].Witness
	require.Len(t, witness, 3)
	require.Len(t, witness[0], 64)
	require.Equal(t, aliceLeaf, witness[1])
	require.NoError(t, taptree.VerifyControlBlock(witness[2], pkScript, aliceLeaf))
}

func TestP2WSHMultisigSend(t *testing.T) {
	var (
		first, firstKey   = derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WSHMultisigPurpose})
		second, secondKey = derive(t, cosignSeed, keys.DeriveParams{Purpose: schemas.P2WSHMultisigPurpose})
		schema            = schemas.P2WSHMultisig{Required: 2, PubKeys: []*btcec.PublicKey{firstKey, secondKey}}
		ctx               = context.Background()
	)

	pkScript, err := schema.ScriptFromKey(firstKey)
	require.NoError(t, err)
	redeem, err := schema.RedeemScript()
	require.NoError(t, err)

	provider := memory.New(1000)
	fund(t, provider, 4, pkScript, 80000)

	p := pipeline.New(provider, params)
	construction, err := p.Construct(ctx, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		Schema:    schema,
		Key:       first,
	})
	require.NoError(t, err)
	require.Equal(t, []psbt.XPub{first.XPub()}, construction.Packet.XPubs)

	t.Run("first signature only", func(t *testing.T) {
		partial := &pipeline.Construction{Packet: construction.Packet, PrevTxs: construction.PrevTxs, Fee: construction.Fee}
		require.NoError(t, partial.Combine())

		_, err := p.Finalise(partial)
		require.ErrorIs(t, err, bitcoin.ErrFinalisation)
		require.Empty(t, provider.Broadcasts())
	})

	serialized, err := construction.Serialize()
	require.NoError(t, err)

	unlocks, err := schema.UnlockOps(schemas.UnlockParams{Key: second})
	require.NoError(t, err)

	cosigned, err := signer.NewSigner(params).SignPSBT(signer.SignParams{
		SerializedPSBT: serialized,
		Tag:            schema.Tag(),
		Unlocks:        unlocks,
	})
	require.NoError(t, err)

	require.NoError(t, construction.Combine(cosigned))
	require.Len(t, construction.Packet.Inputs[0].PartialSigs, 2)
	require.Equal(t, []psbt.XPub{first.XPub()}, construction.Packet.XPubs)

	tx, err := p.Finalise(construction)
	require.NoError(t, err)

	witness := tx.TxIn[0].Witness
	require.Len(t, witness, 4)
	require.Empty(t, witness[0])
	require.Equal(t, redeem, witness[3])

	_, err = p.Broadcast(ctx, tx)
	require.NoError(t, err)
	require.Len(t, provider.Broadcasts(), 1)
}

func TestInsufficientFunds(t *testing.T) {
	bundle, pubKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose})
	change, err := schemas.P2WPKH{}.LockOps(schemas.LockParams{Key: bundle})
	require.NoError(t, err)

	pkScript, err := schemas.P2WPKH{}.ScriptFromKey(pubKey)
	require.NoError(t, err)

	provider := memory.New(200)
	fund(t, provider, 5, pkScript, 1000)

	_, err = pipeline.New(provider, params).Send(context.Background(), pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		CreateTx:  txbuilder.PayAndChange(900, change, 0),
		Schema:    schemas.P2WPKH{},
		Key:       bundle,
	})
	require.ErrorIs(t, err, bitcoin.ErrInsufficientFunds)

	var insufficient *txbuilder.InsufficientError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, btcutil.Amount(1100), insufficient.Need)
	require.Equal(t, btcutil.Amount(1000), insufficient.Have)

	require.Empty(t, provider.Broadcasts())
}

func TestPayAndChange(t *testing.T) {
	bundle, pubKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose})
	changeBundle, changeKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose, Keychain: keys.InternalKeychain})

	change, err := schemas.P2WPKH{}.LockOps(schemas.LockParams{Key: changeBundle})
	require.NoError(t, err)

	pkScript, err := schemas.P2WPKH{}.ScriptFromKey(pubKey)
	require.NoError(t, err)
	changeScript, err := schemas.P2WPKH{}.ScriptFromKey(changeKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		amount  btcutil.Amount
		outputs []int64
	}{
		{name: "change", amount: 30000, outputs: []int64{30000, 69500}},
		{name: "dust change", amount: 99000, outputs: []int64{99000}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			provider := memory.New(500)
			first := fund(t, provider, 6, pkScript, 60000)
			second := fund(t, provider, 7, pkScript, 40000)

			tx := run(t, provider, pipeline.ConstructParams{
				Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
				CreateTx:  txbuilder.PayAndChange(test.amount, change, 0),
				Schema:    schemas.P2WPKH{},
				Key:       bundle,
			})

			require.Len(t, tx.TxIn, 2)
			require.Equal(t, first.TxHash(), tx.TxIn[0].PreviousOutPoint.Hash)
			require.Equal(t, second.TxHash(), tx.TxIn[1].PreviousOutPoint.Hash)

			require.Len(t, tx.TxOut, len(test.outputs))
			var total int64
			for i, value := range test.outputs {
				require.Equal(t, value, tx.TxOut[i].Value)
				total += value
			}
			if len(test.outputs) > 1 {
				require.Equal(t, changeScript, tx.TxOut[1].PkScript)
			}
			require.LessOrEqual(t, total+500, int64(100000))
		})
	}
}

func TestSendFailures(t *testing.T) {
	bundle, pubKey := derive(t, seed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose})
	pkScript, err := schemas.P2WPKH{}.ScriptFromKey(pubKey)
	require.NoError(t, err)

	constructParams := pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{receiver(t).LockOps()},
		Schema:    schemas.P2WPKH{},
		Key:       bundle,
	}

	t.Run("no inputs", func(t *testing.T) {
		provider := memory.New(100)

		_, err := pipeline.New(provider, params).Send(context.Background(), constructParams)
		require.ErrorIs(t, err, bitcoin.ErrInsufficientFunds)
	})

	t.Run("broadcast rejected", func(t *testing.T) {
		provider := memory.New(100)
		fund(t, provider, 8, pkScript, 10000)
		provider.SetBroadcastError(errors.New("bad-txns-inputs-missingorspent"))

		_, err := pipeline.New(provider, params).Send(context.Background(), constructParams)
		require.ErrorIs(t, err, bitcoin.ErrProvider)
		require.Empty(t, provider.Broadcasts())
	})

	t.Run("foreign inputs", func(t *testing.T) {
		_, otherKey := derive(t, cosignSeed, keys.DeriveParams{Purpose: schemas.P2WPKHPurpose})
		otherScript, err := schemas.P2WPKH{}.ScriptFromKey(otherKey)
		require.NoError(t, err)

		provider := memory.New(100)
		fund(t, provider, 9, otherScript, 10000)

		_, err = pipeline.New(provider, params).Send(context.Background(), constructParams)
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
		require.Empty(t, provider.Broadcasts())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		provider := memory.New(100)
		fund(t, provider, 10, pkScript, 10000)

		p := pipeline.New(provider, params)
		construction, err := p.Construct(ctx, constructParams)
		require.NoError(t, err)

		tx, err := p.Finalise(construction)
		require.NoError(t, err)

		_, err = p.Broadcast(ctx, tx)
		require.ErrorIs(t, err, bitcoin.ErrProvider)
		require.Empty(t, provider.Broadcasts())
	})

	t.Run("no schema", func(t *testing.T) {
		_, err := pipeline.New(memory.New(100), params).Construct(context.Background(), pipeline.ConstructParams{})
		require.ErrorIs(t, err, bitcoin.ErrInvariantViolation)
	})
}
