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

// watchtowerd caches atomizer error reports for client queries.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/watchtower"
)

var logger = log.NewModuleLogger(log.Watchtower)

const errorCacheSize = 1 << 20

func main() {
	app := utils.NewApp("The watchtower daemon: transaction error reporting")
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
	if nodeID < 0 || nodeID >= len(opts.WatchtowerAddrs) {
		return fmt.Errorf("node id %d out of range (%d watchtowers configured)", nodeID, len(opts.WatchtowerAddrs))
	}

	svc, err := watchtower.NewService(opts.WatchtowerAddrs[nodeID], errorCacheSize)
	if err != nil {
		return err
	}
	logger.Info("Watchtower started", "addr", opts.WatchtowerAddrs[nodeID])

	waitForSignal()

	svc.Close()
	return nil
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
