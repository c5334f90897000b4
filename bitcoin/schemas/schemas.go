// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package schemas

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// Schema maps derived key to output script and composes lock and unlock operations
// for outputs of that script.
type Schema interface {
	// Purpose returns BIP-44 purpose used for key derivation.
	Purpose() uint32
	// Tag returns PSBT schema tag of inputs spending the schema outputs.
	Tag() txbuilder.SchemaTag
	// Sequence returns nSequence of inputs spending the schema outputs.
	Sequence() uint32
	// ScriptFromKey returns output script locked to the key.
	ScriptFromKey(pubKey *btcec.PublicKey) ([]byte, error)
	// LockOps returns lock operations of output owned by the key.
	LockOps(params LockParams) ([]txbuilder.LockOp, error)
	// UnlockOps returns unlock operations applied to every input spending the schema output.
	UnlockOps(params UnlockParams) ([]signer.UnlockOp, error)
}

// LockParams defines parameters for Schema LockOps method.
type LockParams struct {
	Key *keys.KeyBundle // output owner key, its origin is recorded in the output.
}

// UnlockParams defines parameters for Schema UnlockOps method.
type UnlockParams struct {
	Key *keys.KeyBundle // signing key.
}

// Address returns address of the schema output locked to the key.
func Address(schema Schema, pubKey *btcec.PublicKey, networkParams *chaincfg.Params) (btcutil.Address, error) {
	script, err := schema.ScriptFromKey(pubKey)
	if err != nil {
		return nil, err
	}

	return utils.AddressFromScript(networkParams, script)
}

// bundleKeys returns key pair of the bundle.
func bundleKeys(bundle *keys.KeyBundle) (*btcec.PrivateKey, *btcec.PublicKey, error) {
	if bundle == nil {
		return nil, nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("key bundle is not provided"))
	}

	privKey, err := bundle.PrivKey()
	if err != nil {
		return nil, nil, err
	}

	return privKey, privKey.PubKey(), nil
}

// bundlePubKey returns public key of the bundle.
func bundlePubKey(bundle *keys.KeyBundle) (*btcec.PublicKey, error) {
	if bundle == nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("key bundle is not provided"))
	}

	return bundle.PubKey()
}
