// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package keys

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// DeriveParams defines parameters for Derive method.
type DeriveParams struct {
	Purpose  uint32 // BIP-44 purpose of the address schema, e.g. 84 or 86.
	Keychain uint32 // 0 for external (receive) chain, 1 for internal (change) chain.
	Index    uint32 // address index.
}

// Origin identifies key provenance: master key fingerprint and derivation path.
type Origin struct {
	Fingerprint uint32
	Path        DerivationPath
}

// KeyBundle holds derived extended private key, its extended public key and its origin.
type KeyBundle struct {
	Private *hdkeychain.ExtendedKey
	Public  *hdkeychain.ExtendedKey
	Origin  Origin
}

// Master returns master extended private key for the seed on provided network.
func Master(seed Seed, params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	if err := seed.validate(); err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewMaster(seed[:], params)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidKey, err)
	}

	return master, nil
}

// Fingerprint returns master key fingerprint in the form used by PSBT key origins.
func Fingerprint(master *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := master.ECPubKey()
	if err != nil {
		return 0, errors.Join(bitcoin.ErrInvalidKey, err)
	}

	return binary.LittleEndian.Uint32(btcutil.Hash160(pubKey.SerializeCompressed())[:4]), nil
}

// Derive derives key bundle along m / purpose' / coin_type' / 0' / keychain / index.
func Derive(seed Seed, params *chaincfg.Params, deriveParams DeriveParams) (*KeyBundle, error) {
	if deriveParams.Keychain != ExternalKeychain && deriveParams.Keychain != InternalKeychain {
		return nil, errors.Join(bitcoin.ErrInvalidKey, errors.New("keychain must be 0 or 1"))
	}

	master, err := Master(seed, params)
	if err != nil {
		return nil, err
	}

	return DerivePath(master, NewPath(deriveParams.Purpose, params.HDCoinType, deriveParams.Keychain, deriveParams.Index))
}

// DerivePath derives key bundle from master key along provided path.
func DerivePath(master *hdkeychain.ExtendedKey, path DerivationPath) (*KeyBundle, error) {
	fingerprint, err := Fingerprint(master)
	if err != nil {
		return nil, err
	}

	key := master
	for _, index := range path {
		key, err = key.Derive(index)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrInvalidKey, err)
		}
	}

	public, err := key.Neuter()
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidKey, err)
	}

	return &KeyBundle{
		Private: key,
		Public:  public,
		Origin: Origin{
			Fingerprint: fingerprint,
			Path:        append(DerivationPath(nil), path...),
		},
	}, nil
}

// PrivKey returns secp256k1 private key of the bundle.
func (b *KeyBundle) PrivKey() (*btcec.PrivateKey, error) {
	privKey, err := b.Private.ECPrivKey()
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidKey, err)
	}

	return privKey, nil
}

// PubKey returns secp256k1 public key of the bundle.
func (b *KeyBundle) PubKey() (*btcec.PublicKey, error) {
	pubKey, err := b.Public.ECPubKey()
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidKey, err)
	}

	return pubKey, nil
}

// XOnly returns 32-byte x-only public key of the bundle.
func (b *KeyBundle) XOnly() ([]byte, error) {
	pubKey, err := b.PubKey()
	if err != nil {
		return nil, err
	}

	return schnorr.SerializePubKey(pubKey), nil
}

// Bip32Derivation returns key origin record for segwit inputs and outputs.
func (b *KeyBundle) Bip32Derivation() (*psbt.Bip32Derivation, error) {
	pubKey, err := b.PubKey()
	if err != nil {
		return nil, err
	}

	return &psbt.Bip32Derivation{
		PubKey:               pubKey.SerializeCompressed(),
		MasterKeyFingerprint: b.Origin.Fingerprint,
		Bip32Path:            b.Origin.Path.Clone(),
	}, nil
}

// TaprootBip32Derivation returns taproot key origin record with leaf hashes the key participates in.
func (b *KeyBundle) TaprootBip32Derivation(leafHashes ...[]byte) (*psbt.TaprootBip32Derivation, error) {
	xOnly, err := b.XOnly()
	if err != nil {
		return nil, err
	}

	return &psbt.TaprootBip32Derivation{
		XOnlyPubKey:          xOnly,
		LeafHashes:           leafHashes,
		MasterKeyFingerprint: b.Origin.Fingerprint,
		Bip32Path:            b.Origin.Path.Clone(),
	}, nil
}

// XPub returns global xpub record of the bundle with its origin.
func (b *KeyBundle) XPub() psbt.XPub {
	return psbt.XPub{
		ExtendedKey:          psbt.EncodeExtendedKey(b.Public),
		MasterKeyFingerprint: b.Origin.Fingerprint,
		Bip32Path:            b.Origin.Path.Clone(),
	}
}
