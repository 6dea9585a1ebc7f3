// Copyright 2023 The go-cbdc Authors
// This file is part of go-cbdc.
//
// go-cbdc is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-cbdc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-cbdc. If not, see <http://www.gnu.org/licenses/>.

// sentineld runs a sentinel: the attestation boundary between wallets and
// the settlement engine.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/sentinel"
)

var logger = log.NewModuleLogger(log.CMDSentinel)

const executeTimeout = 60 * time.Second

var keyFileFlag = cli.StringFlag{
	Name:  "keyfile",
	Usage: "File holding the sentinel's hex-encoded private key",
}

func main() {
	app := utils.NewApp("The sentinel daemon: transaction validation and attestation")
	app.Flags = append(app.Flags, keyFileFlag)
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	opts, err := utils.Setup(ctx)
	if err != nil {
		return err
	}
	nodeID := ctx.GlobalInt(utils.NodeIDFlag.Name)
	if nodeID < 0 || nodeID >= len(opts.Sentinels) {
		return fmt.Errorf("node id %d out of range (%d sentinels configured)", nodeID, len(opts.Sentinels))
	}
	self := opts.Sentinels[nodeID]

	keyHex, err := os.ReadFile(ctx.GlobalString(keyFileFlag.Name))
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return fmt.Errorf("decoding key file: %w", err)
	}
	priv, err := crypto.PrivKeyFromBytes(keyBytes)
	if err != nil {
		return err
	}

	if len(opts.Coordinators) == 0 {
		return fmt.Errorf("no coordinators configured")
	}
	coordAddr := opts.Coordinators[nodeID%len(opts.Coordinators)].ClientAddr

	var peers []string
	for i, s := range opts.Sentinels {
		if i != nodeID {
			peers = append(peers, s.ClientAddr)
		}
	}

	controller := sentinel.NewController(uint32(nodeID), priv, opts.AttestationThreshold,
		coordAddr, executeTimeout, peers)
	if err := controller.Start(self.ClientAddr); err != nil {
		return err
	}
	logger.Info("Sentinel started", "node", self.ID, "coordinator", coordAddr)

	waitForSignal()

	controller.Stop()
	return nil
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
