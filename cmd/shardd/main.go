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

// shardd runs one member of a locking-shard raft cluster.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/raft"
)

var logger = log.NewModuleLogger(log.CMDShard)

func main() {
	app := utils.NewApp("The locking shard daemon for the 2PC settlement pipeline")
	app.Flags = append(app.Flags, utils.ShardIDFlag)
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
	shardID := ctx.GlobalInt(utils.ShardIDFlag.Name)
	nodeID := ctx.GlobalInt(utils.NodeIDFlag.Name)
	if shardID < 0 || shardID >= len(opts.Shards) {
		return fmt.Errorf("shard id %d out of range (%d shards configured)", shardID, len(opts.Shards))
	}
	cluster := opts.Shards[shardID]
	if nodeID < 0 || nodeID >= len(cluster.Nodes) {
		return fmt.Errorf("node id %d out of range (%d nodes configured)", nodeID, len(cluster.Nodes))
	}
	self := cluster.Nodes[nodeID]

	keys, err := opts.SentinelKeySet()
	if err != nil {
		return err
	}
	shard := lockingshard.NewLockingShard(cluster.Range(), opts.CompletedTxCacheSize,
		keys, opts.AttestationThreshold)
	if cluster.PreseedFile != "" {
		if err := shard.ReadPreseedFile(cluster.PreseedFile); err != nil {
			logger.Error("Preseeding failed", "file", cluster.PreseedFile, "err", err)
		}
	}
	sm := lockingshard.NewStateMachine(shard)

	members := make(map[string]string, len(cluster.Nodes))
	for _, n := range cluster.Nodes {
		members[n.ID] = n.RaftBind
	}
	node, err := raft.NewNode(raft.Config{
		NodeID:  self.ID,
		Bind:    self.RaftBind,
		DataDir: utils.NodeDataDir(ctx, fmt.Sprintf("shard-%d", shardID), nodeID),
		Members: members,
	}, sm)
	if err != nil {
		return err
	}

	statusAddr := ""
	if nodeID < len(cluster.ReadOnlyAddrs) {
		statusAddr = cluster.ReadOnlyAddrs[nodeID]
	}
	controller, err := lockingshard.NewController(shard, sm, node,
		self.ClientAddr, statusAddr, cluster.AuditLog, opts.AuditInterval)
	if err != nil {
		node.Shutdown()
		return err
	}
	controller.Start()
	logger.Info("Locking shard started", "shard", shardID, "node", self.ID, "range", cluster.Range())

	waitForSignal()

	controller.Stop()
	return node.Shutdown()
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
