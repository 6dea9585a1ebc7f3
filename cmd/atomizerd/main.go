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

// atomizerd runs one member of the atomizer raft cluster.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/atomizer"
	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/raft"
)

var logger = log.NewModuleLogger(log.CMDAtomizer)

func main() {
	app := utils.NewApp("The atomizer daemon for the ordered-block settlement pipeline")
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
	if nodeID < 0 || nodeID >= len(opts.Atomizers) {
		return fmt.Errorf("node id %d out of range (%d atomizers configured)", nodeID, len(opts.Atomizers))
	}
	self := opts.Atomizers[nodeID]

	sm := atomizer.NewStateMachine(opts.StxoCacheDepth, opts.BlockCacheSize)

	members := make(map[string]string, len(opts.Atomizers))
	for _, n := range opts.Atomizers {
		members[n.ID] = n.RaftBind
	}
	node, err := raft.NewNode(raft.Config{
		NodeID:  self.ID,
		Bind:    self.RaftBind,
		DataDir: utils.NodeDataDir(ctx, "atomizer", nodeID),
		Members: members,
	}, sm)
	if err != nil {
		return err
	}

	controller := atomizer.NewController(opts, node, sm, self.ClientAddr)
	if err := controller.Start(); err != nil {
		node.Shutdown()
		return err
	}
	logger.Info("Atomizer started", "node", self.ID)

	waitForSignal()

	controller.Stop()
	return node.Shutdown()
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
