// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// MainNet defines bitcoin main network name.
	MainNet = "mainnet"
	// TestNet defines bitcoin test network (testnet3) name.
	TestNet = "testnet"
	// SigNet defines default bitcoin signet name.
	SigNet = "signet"
	// RegTest defines bitcoin regression test network name.
	RegTest = "regtest"
)

// NetworkParams returns chain parameters for the provided network name.
// Determines address prefixes, magic and BIP-32 version bytes.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MainNet:
		return &chaincfg.MainNetParams, nil
	case TestNet, "testnet3":
		return &chaincfg.TestNet3Params, nil
	case SigNet:
		return &chaincfg.SigNetParams, nil
	case RegTest:
		return &chaincfg.RegressionNetParams, nil
	}

	return nil, ErrUnknownNetwork
}

// MustNetworkParams uses NetworkParams, panics in case of error.
func MustNetworkParams(name string) *chaincfg.Params {
	params, err := NetworkParams(name)
	if err != nil {
		panic(err)
	}

	return params
}
