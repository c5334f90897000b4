// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/BoostyLabs/btcpipeline/bitcoin/chain/bitcoind"
	"github.com/BoostyLabs/btcpipeline/bitcoin/pipeline"
	"github.com/BoostyLabs/btcpipeline/bitcoin/signer"
)

// logWriter implements an io.Writer that outputs to both logOutput and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

// logOutput is the console output of the log backend.
var logOutput io.Writer = os.Stdout

func (logWriter) Write(p []byte) (n int, err error) {
	_, _ = logOutput.Write(p)
	if logRotator != nil {
		_, _ = logRotator.Write(p)
	}

	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("SEND")
	pipeLog = backendLog.Logger(pipeline.Subsystem)
	signLog = backendLog.Logger(signer.Subsystem)
	btcdLog = backendLog.Logger(bitcoind.Subsystem)
	rpcLog  = backendLog.Logger("RPCC")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"SEND":             log,
	pipeline.Subsystem: pipeLog,
	signer.Subsystem:   signLog,
	bitcoind.Subsystem: btcdLog,
	"RPCC":             rpcLog,
}

func init() {
	pipeline.UseLogger(pipeLog)
	signer.UseLogger(signLog)
	bitcoind.UseLogger(btcdLog)
	rpcclient.UseLogger(rpcLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.
func initLogRotator(logFile string, maxFileSizeMB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, int64(maxFileSizeMB*1024), false, maxFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	logRotator = r
	return nil
}

// setLogLevels sets the log level of every subsystem.
func setLogLevels(level string) error {
	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}

	for _, logger := range subsystemLoggers {
		logger.SetLevel(logLevel)
	}

	return nil
}
