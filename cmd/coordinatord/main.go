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

// coordinatord runs one member of the 2PC coordinator raft cluster.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/coordinator"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/raft"
)

var logger = log.NewModuleLogger(log.CMDCoordinator)

const shardCallTimeout = 5 * time.Second

func main() {
	app := utils.NewApp("The distributed transaction coordinator daemon")
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
	if nodeID < 0 || nodeID >= len(opts.Coordinators) {
		return fmt.Errorf("node id %d out of range (%d coordinators configured)", nodeID, len(opts.Coordinators))
	}
	self := opts.Coordinators[nodeID]

	var shards []lockingshard.ShardClient
	for i := range opts.Shards {
		cluster := &opts.Shards[i]
		addrs := make([]string, 0, len(cluster.Nodes))
		for _, n := range cluster.Nodes {
			addrs = append(addrs, n.ClientAddr)
		}
		shards = append(shards, lockingshard.NewClient(cluster.Range(), addrs, shardCallTimeout))
	}

	sm := coordinator.NewStateMachine()
	members := make(map[string]string, len(opts.Coordinators))
	for _, n := range opts.Coordinators {
		members[n.ID] = n.RaftBind
	}
	node, err := raft.NewNode(raft.Config{
		NodeID:  self.ID,
		Bind:    self.RaftBind,
		DataDir: utils.NodeDataDir(ctx, "coordinator", nodeID),
		Members: members,
	}, sm)
	if err != nil {
		return err
	}

	controller := coordinator.NewController(sm, node, shards, self.ClientAddr)
	controller.Start()
	logger.Info("Coordinator started", "node", self.ID, "shards", len(shards))

	waitForSignal()

	controller.Stop()
	return node.Shutdown()
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
