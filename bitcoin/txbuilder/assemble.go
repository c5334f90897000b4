// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// Assemble creates PSBT of unsigned transaction with output descriptors,
// global xpub records and schema tags of inputs.
func Assemble(tx *wire.MsgTx, outputs []*OutputDescriptor, xpubs []psbt.XPub, tags map[SchemaTag][]int) (*psbt.Packet, error) {
	if len(outputs) != len(tx.TxOut) {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("got %d descriptors for %d outputs", len(outputs), len(tx.TxOut)))
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	for i, descriptor := range outputs {
		p.Outputs[i], err = descriptor.POutput()
		if err != nil {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
		}
	}

	for _, xpub := range xpubs {
		extendedKey, err := psbt.DecodeExtendedKey(xpub.ExtendedKey)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("malformed global xpub: %w", err))
		}
		// parser rejects records with path not matching key depth.
		if int(extendedKey.Depth()) != len(xpub.Bip32Path) {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("xpub of depth %d has path of %d elements", extendedKey.Depth(), len(xpub.Bip32Path)))
		}

		p.XPubs = append(p.XPubs, xpub)
	}

	tagUnknowns, err := SchemaTagUnknowns(tags)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}
	for _, unknown := range tagUnknowns {
		for _, index := range unknown.Value {
			if int(index) >= len(p.Inputs) {
				return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("schema tag references missing input %d", index))
			}
		}
	}
	p.Unknowns = append(p.Unknowns, tagUnknowns...)

	return p, nil
}
