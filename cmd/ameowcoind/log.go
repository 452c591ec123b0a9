// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/peerconn"
	"github.com/alexanderdna/ameowcoin/protocol"
	"github.com/alexanderdna/ameowcoin/rpcserver"
	"github.com/alexanderdna/ameowcoin/store"
)

// logRotator writes to a size-rolled log file (logWriter sends each write
// to stdout and to it); it is nil until initLogRotator runs.
var logRotator *rotator.Rotator

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

func initLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// backendLog is the shared decred/slog backend every subsystem logger is
// created from.
var backendLog = slog.NewBackend(logWriter{})

// subsystemLoggers maps each four-letter subsystem tag to its logger, so
// that debuglevel strings of the form
// "<subsystem>=<level>,..." can target them individually.
var subsystemLoggers = map[string]slog.Logger{
	"AMCD": backendLog.Logger("AMCD"),
	"CHAN": backendLog.Logger("CHAN"),
	"PEER": backendLog.Logger("PEER"),
	"PROT": backendLog.Logger("PROT"),
	"IBD ": backendLog.Logger("IBD "),
	"STOR": backendLog.Logger("STOR"),
	"RPCS": backendLog.Logger("RPCS"),
}

// log is this command's own subsystem logger.
var log = subsystemLoggers["AMCD"]

// useLoggers wires each subsystem logger into its package via the
// per-package UseLogger setter.
func useLoggers() {
	blockchain.UseLogger(subsystemLoggers["CHAN"])
	peerconn.UseLogger(subsystemLoggers["PEER"])
	protocol.UseLogger(subsystemLoggers["PROT"])
	ibd.UseLogger(subsystemLoggers["IBD "])
	store.UseLogger(subsystemLoggers["STOR"])
	rpcserver.UseLogger(subsystemLoggers["RPCS"])
}

// setLogLevels parses a debuglevel string: either a single level applied to
// every subsystem, or a comma-separated list of "<subsystem>=<level>" pairs.
func setLogLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		level, ok := slog.LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("the specified debug level %q is invalid", debugLevel)
		}
		for _, logger := range subsystemLoggers {
			logger.SetLevel(level)
		}
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.SplitN(pair, "=", 2)
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair %q", pair)
		}
		subsysID, levelStr := fields[0], fields[1]
		logger, ok := subsystemLoggers[subsysID]
		if !ok {
			return fmt.Errorf("the specified subsystem %q is invalid", subsysID)
		}
		level, ok := slog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("the specified debug level %q is invalid", levelStr)
		}
		logger.SetLevel(level)
	}
	return nil
}
