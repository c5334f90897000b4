// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ErrDestination defines errors class for destination address parsing.
var ErrDestination = errors.New("prepare destination")

const (
	// P2PK defines P2PK (public key) script type over which the address is built.
	P2PK = "P2PK"
	// P2PKH defines P2PK (public key hash) script type over which the address is built.
	P2PKH = "P2PKH"
	// P2SH defines P2SH (script hash) script type over which the address is built.
	P2SH = "P2SH"
	// P2WPKH defines P2WPKH (witness public key hash) script type over which the address is built.
	P2WPKH = "P2WPKH"
	// P2WSH defines P2WSH (witness script hash) script type over which the address is built.
	P2WSH = "P2WSH"
	// P2TR defines P2TR (taproot) script type over which the address is built.
	P2TR = "P2TR"
)

// Destination is a helping tool to lock output to a recipient address.
type Destination struct {
	address    btcutil.Address
	scriptType string
	script     []byte
}

// NewDestination is a constructor for Destination.
func NewDestination(address string, networkParams *chaincfg.Params) (d *Destination, err error) {
	d = new(Destination)

	defer func(err *error) {
		if err != nil && *err != nil {
			*err = errors.Join(ErrDestination, *err)
		}
	}(&err)

	d.address, err = btcutil.DecodeAddress(address, networkParams)
	if err != nil {
		return nil, err
	}
	if !d.address.IsForNet(networkParams) {
		return nil, errors.New("address is for another network")
	}

	switch d.address.(type) {
	case *btcutil.AddressTaproot:
		d.scriptType = P2TR
	case *btcutil.AddressWitnessPubKeyHash:
		d.scriptType = P2WPKH
	case *btcutil.AddressWitnessScriptHash:
		d.scriptType = P2WSH
	case *btcutil.AddressPubKeyHash:
		d.scriptType = P2PKH
	case *btcutil.AddressPubKey:
		d.scriptType = P2PK
	case *btcutil.AddressScriptHash:
		d.scriptType = P2SH
	default:
		return nil, btcutil.ErrUnknownAddressType
	}

	d.script, err = txscript.PayToAddrScript(d.address)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// LockOps returns lock operations of the recipient output.
func (d *Destination) LockOps() []LockOp {
	return []LockOp{SetWitnessScript{Script: d.script}}
}

// Script returns recipient output script.
func (d *Destination) Script() []byte {
	return d.script
}

// Address returns decoded recipient address.
func (d *Destination) Address() btcutil.Address {
	return d.address
}

// ScriptType returns underlying script type.
func (d *Destination) ScriptType() string {
	return d.scriptType
}
