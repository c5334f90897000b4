// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jessevdk/go-flags"

	"github.com/BoostyLabs/btcpipeline/bitcoin/chain/bitcoind"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/pipeline"
	"github.com/BoostyLabs/btcpipeline/bitcoin/schemas"
	"github.com/BoostyLabs/btcpipeline/bitcoin/txbuilder"
)

// seedOutput receives generated seed.
var seedOutput io.Writer = os.Stderr

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err = run(cfg); err != nil {
		log.Errorf("Send failed: %v", err)
		if logRotator != nil {
			_ = logRotator.Close()
		}
		os.Exit(1)
	}

	if logRotator != nil {
		_ = logRotator.Close()
	}
}

func run(cfg *Config) error {
	if cfg.MaxLogFiles > 0 {
		logFile := filepath.Join(cfg.LogDir, cfg.Network, defaultLogFilename)
		if err := initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
			return err
		}
	}
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	key, err := keys.Derive(cfg.seed, cfg.networkParams, keys.DeriveParams{
		Purpose:  cfg.schema.Purpose(),
		Keychain: keys.ExternalKeychain,
		Index:    cfg.Index,
	})
	if err != nil {
		return err
	}

	pubKey, err := key.PubKey()
	if err != nil {
		return err
	}

	address, err := schemas.Address(cfg.schema, pubKey, cfg.networkParams)
	if err != nil {
		return err
	}

	// generated seed is shown once and never passed to the log backend.
	if cfg.Seed == "" {
		_, _ = fmt.Fprintf(seedOutput, "Generated seed %x, keep it to spend from %v\n", cfg.seed[:], address)
	}
	log.Infof("Spending from %v (%v, path %v)", address, cfg.Schema, key.Origin.Path)

	if cfg.ShowAddress {
		fmt.Println(address.EncodeAddress())
		return nil
	}

	createTx, err := createTxFunc(cfg)
	if err != nil {
		return err
	}

	destination, err := txbuilder.NewDestination(cfg.To, cfg.networkParams)
	if err != nil {
		return err
	}

	provider, client, err := bitcoind.Dial(&rpcclient.ConnConfig{
		Host:       cfg.RPC.Host,
		User:       cfg.RPC.User,
		Pass:       cfg.RPC.Pass,
		DisableTLS: cfg.RPC.NoTLS,
	}, bitcoind.Config{
		Addresses:   []btcutil.Address{address},
		MinConf:     cfg.MinConf,
		ConfTarget:  cfg.ConfTarget,
		FallbackFee: btcutil.Amount(cfg.FallbackFee),
	})
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	txHash, err := pipeline.New(provider, cfg.networkParams).Send(ctx, pipeline.ConstructParams{
		Receivers: [][]txbuilder.LockOp{destination.LockOps()},
		CreateTx:  createTx,
		Schema:    cfg.schema,
		Key:       key,
	})
	if err != nil {
		return err
	}

	fmt.Println(txHash)

	return nil
}

// createTxFunc sweeps the whole balance when amount is not set, otherwise pays
// the amount and sends change to the internal keychain of the same schema.
func createTxFunc(cfg *Config) (txbuilder.CreateTxFunc, error) {
	if cfg.Amount == 0 {
		return txbuilder.SingleOutput(), nil
	}

	change, err := keys.Derive(cfg.seed, cfg.networkParams, keys.DeriveParams{
		Purpose:  cfg.schema.Purpose(),
		Keychain: keys.InternalKeychain,
		Index:    cfg.Index,
	})
	if err != nil {
		return nil, err
	}

	changeLocks, err := cfg.schema.LockOps(schemas.LockParams{Key: change})
	if err != nil {
		return nil, err
	}

	return txbuilder.PayAndChange(btcutil.Amount(cfg.Amount), changeLocks, 0), nil
}
