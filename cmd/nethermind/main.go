// Copyright 2025 The nethermind Authors
// This file is part of nethermind.
//
// nethermind is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nethermind is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with nethermind. If not, see <http://www.gnu.org/licenses/>.

// nethermind runs a transport-layer node: it listens for peers, dials the
// configured bootnodes and keeps sessions alive until interrupted.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/ilovesweetpickles/nethermind/log"
	"github.com/ilovesweetpickles/nethermind/p2p"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Network listening port",
		Value: 30303,
	}
	maxPeersFlag = &cli.IntFlag{
		Name:  "maxpeers",
		Usage: "Maximum number of network peers",
		Value: 25,
	}
	nodeKeyHexFlag = &cli.StringFlag{
		Name:  "nodekeyhex",
		Usage: "P2P node key as hex (for testing)",
	}
	bootnodesFlag = &cli.StringSliceFlag{
		Name:  "bootnodes",
		Usage: "Comma separated enode URLs for P2P connection bootstrap",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: int(log.LvlInfo),
	}
)

type config struct {
	Port      int
	MaxPeers  int
	NodeKey   string
	Bootnodes []string
}

func main() {
	app := &cli.App{
		Name:  "nethermind",
		Usage: "p2p transport node",
		Flags: []cli.Flag{
			configFileFlag,
			portFlag,
			maxPeersFlag,
			nodeKeyHexFlag,
			bootnodesFlag,
			verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*config, error) {
	cfg := &config{
		Port:     ctx.Int(portFlag.Name),
		MaxPeers: ctx.Int(maxPeersFlag.Name),
	}
	if file := ctx.String(configFileFlag.Name); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("%s: %v", file, err)
		}
	}
	// Flags set on the command line win over the file.
	if ctx.IsSet(portFlag.Name) {
		cfg.Port = ctx.Int(portFlag.Name)
	}
	if ctx.IsSet(maxPeersFlag.Name) {
		cfg.MaxPeers = ctx.Int(maxPeersFlag.Name)
	}
	if ctx.IsSet(nodeKeyHexFlag.Name) {
		cfg.NodeKey = ctx.String(nodeKeyHexFlag.Name)
	}
	if ctx.IsSet(bootnodesFlag.Name) {
		cfg.Bootnodes = ctx.StringSlice(bootnodesFlag.Name)
	}
	return cfg, nil
}

func nodeKey(cfg *config) (*btcec.PrivateKey, error) {
	if cfg.NodeKey == "" {
		key, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("could not generate key: %v", err)
		}
		return key, nil
	}
	b, err := hex.DecodeString(cfg.NodeKey)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid node key (want 64 hex chars)")
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}

func setupLogging(ctx *cli.Context) {
	// The log package writes through glog, which registers its flags on
	// the standard flag set.
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(ctx.Int(verbosityFlag.Name)))
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	key, err := nodeKey(cfg)
	if err != nil {
		return err
	}

	peers := p2p.NewPeerSet(cfg.MaxPeers)
	srv := &p2p.Server{
		Config: p2p.Config{
			PrivateKey: key,
			ListenPort: cfg.Port,
			Registry:   peers,
			Metrics:    p2p.NewConnMetrics(nil),
		},
	}
	if err := srv.Init(); err != nil {
		return err
	}
	peers.Track(srv)
	log.Info("Node started", "id", srv.LocalID().TerminalString(), "addr", srv.ListenAddr())

	for _, url := range cfg.Bootnodes {
		node, err := p2p.ParseNode(url)
		if err != nil {
			log.Warn("Skipping invalid bootnode", "url", url, "err", err)
			continue
		}
		go func(n *p2p.Node) {
			if err := srv.Connect(n); err != nil {
				log.Warn("Bootnode dial failed", "err", err)
			}
		}(node)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Interrupt received, shutting down")

	srv.Shutdown()
	peers.Close()
	return nil
}
