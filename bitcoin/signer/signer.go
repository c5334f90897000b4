// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
	"github.com/BoostyLabs/btcpipeline/bitcoin/utils"
)

// SignParams defines parameters for SignPSBT method.
type SignParams struct {
	SerializedPSBT []byte
	Tag            txbuilder.SchemaTag // schema of inputs to sign, used when Inputs is empty.
	Inputs         []int               // inputs indexes.
	Unlocks        []UnlockOp          // applied to every input.
}

// Signer provides PSBT co-signing related logic.
type Signer struct {
	networkParams *chaincfg.Params
}

// NewSigner is a constructor for Signer.
func NewSigner(networkParams *chaincfg.Params) *Signer {
	return &Signer{
		networkParams: networkParams,
	}
}

// SignPSBT applies unlock operations to inputs by provided indexes or tagged by schema,
// returns updated serialized PSBT. Witness utxos of all inputs must be present.
func (signer *Signer) SignPSBT(params SignParams) ([]byte, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(params.SerializedPSBT), false)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	inputs := params.Inputs
	if len(inputs) == 0 {
		tags, err := txbuilder.ExtractSchemaInputIndexes(packet)
		if err != nil {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
		}

		inputs = tags[params.Tag]
		if len(inputs) == 0 {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, fmt.Errorf("no %s inputs to sign", params.Tag))
		}
	}

	ctx, err := NewUnlockContextFromPacket(packet)
	if err != nil {
		return nil, err
	}

	for _, input := range inputs {
		if input < 0 || len(packet.Inputs) <= input {
			return nil, errors.Join(bitcoin.ErrInvariantViolation, errors.New("invalid input index"))
		}

		if address, err := utils.AddressFromScript(signer.networkParams, packet.Inputs[input].WitnessUtxo.PkScript); err == nil {
			log.Debugf("Signing input %d spending %v", input, address)
		}

		if err = ApplyUnlocks(ctx, input, params.Unlocks...); err != nil {
			return nil, err
		}
	}

	w := bytes.NewBuffer(nil)
	err = packet.Serialize(w)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvariantViolation, err)
	}

	return w.Bytes(), nil
}
