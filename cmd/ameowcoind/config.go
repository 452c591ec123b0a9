// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/decred/go-socks/socks"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "ameowcoind.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogFilename    = "ameowcoind.log"
	defaultListen         = ":8777"
	defaultRPCListen      = ":8778"
	defaultMaxPeers       = 32
)

// config holds every option ameowcoind accepts on the command line or in
// its INI config file, parsed with the github.com/jessevdk/go-flags
// library.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store blocks and the transaction index"`

	Listen   string   `long:"listen" description:"Address to listen for incoming peer connections"`
	AddPeers []string `long:"addpeer" description:"Seed peer address to connect to on startup (may be given multiple times)"`
	MaxPeers int      `long:"maxpeers" description:"Maximum number of peers to hold open at once (parsed but not enforced: the node does not cap its peer count)"`

	Proxy     string `long:"proxy" description:"Connect to outbound peers through this SOCKS5 proxy"`
	ProxyUser string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass string `long:"proxypass" description:"Password for proxy server"`

	Mine      bool   `long:"mine" description:"Mine new blocks in the background"`
	MinerAddr string `long:"mineraddr" description:"Address to receive mining rewards; required when --mine is set"`

	RPCListen   string `long:"rpclisten" description:"Address for the JSON-RPC and websocket notification server"`
	RPCUser     string `long:"rpcuser" description:"Username for RPC and websocket connections"`
	RPCPassword string `long:"rpcpass" description:"Password for RPC and websocket connections"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems: trace, debug, info, warn, error, critical, or <subsystem>=<level>,..."`
	NoLogFile  bool   `long:"nologfile" description:"Disable logging to a rotated log file"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ameowcoind", defaultDataDirname)
}

func defaultConfig() config {
	return config{
		DataDir:    defaultDataDir(),
		Listen:     defaultListen,
		MaxPeers:   defaultMaxPeers,
		RPCListen:  defaultRPCListen,
		DebugLevel: defaultLogLevel,
	}
}

// loadConfig parses command-line flags, then an INI config file (if
// present) for anything the flags didn't already set, following the
// teacher's two-pass go-flags convention.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.Parse(); err != nil {
		return nil, err
	}

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(filepath.Dir(defaultDataDir()), defaultConfigFilename)
	}
	if _, err := os.Stat(configFile); err == nil {
		fileParser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(fileParser).ParseFile(configFile); err != nil {
			return nil, fmt.Errorf("ameowcoind: failed to parse config file: %w", err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.Mine && cfg.MinerAddr == "" {
		return nil, fmt.Errorf("ameowcoind: --mineraddr is required when --mine is set")
	}

	return &cfg, nil
}

// proxyDialer builds the net.Conn dialer outbound connections use: a
// direct dialer, or one routed through the configured SOCKS5 proxy.
func (cfg *config) proxyDialer() func(network, addr string) (net.Conn, error) {
	if cfg.Proxy == "" {
		return net.Dial
	}
	proxy := &socks.Proxy{
		Addr:     cfg.Proxy,
		Username: cfg.ProxyUser,
		Password: cfg.ProxyPass,
	}
	return proxy.Dial
}
