// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ErrUnsupportedAddress defines that address type can not be paid to by the pipeline.
var ErrUnsupportedAddress = errors.New("unsupported address type")

// NewP2WPKHAddress returns bech32 segwit v0 key-hash address of the public key.
func NewP2WPKHAddress(chainParams *chaincfg.Params, pubKey *btcec.PublicKey) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), chainParams)
}

// NewP2WSHAddress returns bech32 segwit v0 script-hash address of the redeem script.
func NewP2WSHAddress(chainParams *chaincfg.Params, redeemScript []byte) (*btcutil.AddressWitnessScriptHash, error) {
	hash := sha256.Sum256(redeemScript)

	return btcutil.NewAddressWitnessScriptHash(hash[:], chainParams)
}

// NewP2TRAddress returns bech32m taproot address of the internal key tweaked by merkle root.
// Empty merkle root produces BIP-86 key-path only address.
func NewP2TRAddress(chainParams *chaincfg.Params, internalKey *btcec.PublicKey, merkleRoot []byte) (*btcutil.AddressTaproot, error) {
	outputKey := TaprootOutputKey(internalKey, merkleRoot)

	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), chainParams)
}

// MustP2TRAddress uses NewP2TRAddress, panics in case of error.
func MustP2TRAddress(chainParams *chaincfg.Params, internalKey *btcec.PublicKey, merkleRoot []byte) *btcutil.AddressTaproot {
	address, err := NewP2TRAddress(chainParams, internalKey, merkleRoot)
	if err != nil {
		panic(err)
	}

	return address
}

// AddressFromScript returns the address encoded by a standard single-address output script.
func AddressFromScript(chainParams *chaincfg.Params, pkScript []byte) (btcutil.Address, error) {
	_, addresses, _, err := txscript.ExtractPkScriptAddrs(pkScript, chainParams)
	if err != nil {
		return nil, err
	}
	if len(addresses) != 1 {
		return nil, ErrUnsupportedAddress
	}

	return addresses[0], nil
}

// DecodeAddress decodes address and checks that it belongs to provided network.
func DecodeAddress(chainParams *chaincfg.Params, address string) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(address, chainParams)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(chainParams) {
		return nil, errors.New("address is not for the network")
	}

	return decoded, nil
}
