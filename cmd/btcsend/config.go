// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
	"github.com/BoostyLabs/btcpipeline/bitcoin/keys"
	"github.com/BoostyLabs/btcpipeline/bitcoin/schemas"
)

const (
	defaultConfigFilename = "btcsend.conf"
	defaultLogFilename    = "btcsend.log"
	defaultLogDirname     = "logs"
	defaultLogLevel       = "info"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultNetwork     = bitcoin.RegTest
	defaultRPCHost     = "localhost:18443"
	defaultSchema      = "p2wpkh"
	defaultFallbackFee = 1000
	defaultConfTarget  = 6
	defaultMinConf     = 1
)

var (
	defaultAppDir     = btcutil.AppDataDir("btcsend", false)
	defaultConfigFile = filepath.Join(defaultAppDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDir, defaultLogDirname)
)

// RPCConfig holds bitcoind JSON-RPC connection settings.
type RPCConfig struct {
	Host  string `long:"host" description:"bitcoind RPC host:port"`
	User  string `long:"user" description:"bitcoind RPC user"`
	Pass  string `long:"pass" default-mask:"-" description:"bitcoind RPC password"`
	NoTLS bool   `long:"notls" description:"Disable TLS for the RPC connection"`
}

// Config is the main config of the btcsend utility.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	Network string `long:"network" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest" description:"Bitcoin network"`
	Seed    string `long:"seed" default-mask:"-" description:"Hex encoded 32-byte seed, fresh one is generated with --showaddress when empty"`
	Schema  string `long:"schema" choice:"p2wpkh" choice:"p2tr" description:"Address schema of spent outputs"`
	Index   uint32 `long:"index" description:"Address index on the external keychain"`

	ShowAddress bool   `long:"showaddress" description:"Print the address of the key and exit"`
	To          string `long:"to" description:"Destination address"`
	Amount      int64  `long:"amount" description:"Amount in satoshis, the whole balance is swept when zero"`

	FallbackFee int64 `long:"fallbackfee" description:"Fee in satoshis used when the node can not estimate fee rate"`
	ConfTarget  int64 `long:"conftarget" description:"Fee estimation confirmation target"`
	MinConf     int   `long:"minconf" description:"Minimum confirmations of spent outputs"`

	RPC *RPCConfig `group:"rpc" namespace:"rpc"`

	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	// networkParams, seed and schema are resolved by validate.
	networkParams *chaincfg.Params
	seed          keys.Seed
	schema        schemas.Schema
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ConfigFile:     defaultConfigFile,
		Network:        defaultNetwork,
		Schema:         defaultSchema,
		FallbackFee:    defaultFallbackFee,
		ConfTarget:     defaultConfTarget,
		MinConf:        defaultMinConf,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		RPC: &RPCConfig{
			Host:  defaultRPCHost,
			NoTLS: true,
		},
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		// A missing default config file is fine, an explicitly provided
		// one has to exist.
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || preCfg.ConfigFile != defaultConfigFile {
			return nil, fmt.Errorf("could not load config file %v: %w", preCfg.ConfigFile, err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err = flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks option values and resolves network, seed and schema.
func (cfg *Config) validate() (err error) {
	cfg.networkParams, err = bitcoin.NetworkParams(cfg.Network)
	if err != nil {
		return err
	}

	cfg.seed, err = keys.ParseSeed(cfg.Seed)
	if err != nil {
		return err
	}

	switch cfg.Schema {
	case "p2wpkh":
		cfg.schema = schemas.P2WPKH{}
	case "p2tr":
		cfg.schema = schemas.P2TRKeyPath{}
	default:
		return fmt.Errorf("unsupported schema %q", cfg.Schema)
	}

	if cfg.ShowAddress {
		return nil
	}

	switch {
	case cfg.Seed == "":
		return errors.New("seed is required to send")
	case cfg.To == "":
		return errors.New("destination address is required")
	case cfg.Amount < 0:
		return errors.New("amount can not be negative")
	case cfg.FallbackFee < 0:
		return errors.New("fallback fee can not be negative")
	case cfg.RPC.Host == "":
		return errors.New("bitcoind RPC host is required")
	}

	return nil
}
