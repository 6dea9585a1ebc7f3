// Copyright 2023 The go-cbdc Authors
// This file is part of the go-cbdc library.
//
// The go-cbdc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdc library. If not, see <http://www.gnu.org/licenses/>.

// Package raft wraps the replicated-log primitive backing every state
// machine in the system. A Node bundles a raft instance with a durable
// bolt-backed log store, a file snapshot store and a TCP transport; tests
// substitute in-memory stores and transports. State machines implement
// hashicorp/raft's FSM interface and receive commands in committed log
// order.
package raft

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/opencbdc/go-cbdc/log"
)

var logger = log.NewModuleLogger(log.Raft)

// ErrNotLeader is returned when a command is submitted to a follower or
// when leadership is lost before the command commits.
var ErrNotLeader = errors.New("not the cluster leader")

// ErrShutdown is returned for commands submitted after Shutdown.
var ErrShutdown = errors.New("raft node is shut down")

const (
	snapshotRetain  = 2
	applyTimeout    = 10 * time.Second
	transportPool   = 3
	transportWindow = 10 * time.Second
)

// Replicator is the replicated-log surface controllers drive their state
// machines through. *Node implements it; tests substitute in-process
// fakes.
type Replicator interface {
	// Replicate appends cmd to the log and returns the state machine's
	// response once the entry commits on a majority.
	Replicate(cmd []byte) (interface{}, error)
	// IsLeader reports whether this node currently holds leadership.
	IsLeader() bool
	// LeaderCh delivers leadership transitions.
	LeaderCh() <-chan bool
	// LastIndex returns the last log index appended on this node.
	LastIndex() uint64
	// Barrier blocks until every preceding entry has been applied locally.
	Barrier() error
}

// Config describes a single raft cluster member.
type Config struct {
	// NodeID is this member's unique identifier within the cluster.
	NodeID string
	// Bind is the advertised raft transport address.
	Bind string
	// DataDir holds the bolt log store and the snapshot directory.
	DataDir string
	// Members lists every cluster member as id -> transport address,
	// including this node. The first boot of the cluster is bootstrapped
	// from this set.
	Members map[string]string
	// HeartbeatTimeout, ElectionTimeout and CommitTimeout override the
	// library defaults when non-zero.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	// SnapshotInterval and SnapshotThreshold control snapshot cadence.
	SnapshotInterval  time.Duration
	SnapshotThreshold uint64
	// InMemory selects in-memory stores and transport, for tests.
	InMemory bool
}

// Node is a replicated-log cluster member driving a state machine.
type Node struct {
	cfg   Config
	raft  *hraft.Raft
	store *raftboltdb.BoltStore
	trans hraft.Transport
}

// NewNode starts a raft node replicating the given state machine. On the
// first boot of a fresh data directory the cluster configuration is
// bootstrapped from cfg.Members.
func NewNode(cfg Config, fsm hraft.FSM) (*Node, error) {
	rc := hraft.DefaultConfig()
	rc.LocalID = hraft.ServerID(cfg.NodeID)
	rc.LogOutput = os.Stderr
	if cfg.HeartbeatTimeout > 0 {
		rc.HeartbeatTimeout = cfg.HeartbeatTimeout
		if rc.LeaderLeaseTimeout > rc.HeartbeatTimeout {
			rc.LeaderLeaseTimeout = rc.HeartbeatTimeout
		}
	}
	if cfg.ElectionTimeout > 0 {
		rc.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.CommitTimeout > 0 {
		rc.CommitTimeout = cfg.CommitTimeout
	}
	if cfg.SnapshotInterval > 0 {
		rc.SnapshotInterval = cfg.SnapshotInterval
	}
	if cfg.SnapshotThreshold > 0 {
		rc.SnapshotThreshold = cfg.SnapshotThreshold
	}

	n := &Node{cfg: cfg}

	var (
		logStore    hraft.LogStore
		stableStore hraft.StableStore
		snaps       hraft.SnapshotStore
		trans       hraft.Transport
		err         error
	)
	if cfg.InMemory {
		ms := hraft.NewInmemStore()
		logStore, stableStore = ms, ms
		snaps = hraft.NewInmemSnapshotStore()
		addr, t := hraft.NewInmemTransport(hraft.ServerAddress(cfg.Bind))
		cfg.Bind = string(addr)
		n.cfg.Bind = string(addr)
		trans = t
	} else {
		if err = os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating raft data dir: %w", err)
		}
		bolt, berr := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
		if berr != nil {
			return nil, fmt.Errorf("opening raft log store: %w", berr)
		}
		n.store = bolt
		logStore, stableStore = bolt, bolt
		snaps, err = hraft.NewFileSnapshotStore(cfg.DataDir, snapshotRetain, os.Stderr)
		if err != nil {
			bolt.Close()
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		addr, aerr := net.ResolveTCPAddr("tcp", cfg.Bind)
		if aerr != nil {
			bolt.Close()
			return nil, fmt.Errorf("resolving raft bind address: %w", aerr)
		}
		trans, err = hraft.NewTCPTransport(cfg.Bind, addr, transportPool, transportWindow, os.Stderr)
		if err != nil {
			bolt.Close()
			return nil, fmt.Errorf("starting raft transport: %w", err)
		}
	}
	n.trans = trans

	r, err := hraft.NewRaft(rc, fsm, logStore, stableStore, snaps, trans)
	if err != nil {
		if n.store != nil {
			n.store.Close()
		}
		return nil, fmt.Errorf("starting raft: %w", err)
	}
	n.raft = r

	if len(cfg.Members) > 0 {
		var servers []hraft.Server
		for id, addr := range cfg.Members {
			servers = append(servers, hraft.Server{
				ID:      hraft.ServerID(id),
				Address: hraft.ServerAddress(addr),
			})
		}
		// BootstrapCluster is a no-op with an error on an already
		// bootstrapped store.
		f := r.BootstrapCluster(hraft.Configuration{Servers: servers})
		if err := f.Error(); err != nil && !errors.Is(err, hraft.ErrCantBootstrap) {
			logger.Warn("Cluster bootstrap skipped", "node", cfg.NodeID, "err", err)
		}
	}

	logger.Info("Raft node started", "node", cfg.NodeID, "bind", n.cfg.Bind)
	return n, nil
}

// Replicate appends cmd to the replicated log and blocks until it commits
// on a majority, returning the state machine's response for the entry.
// Returns ErrNotLeader if this node is not, or ceases to be, the leader.
func (n *Node) Replicate(cmd []byte) (interface{}, error) {
	f := n.raft.Apply(cmd, applyTimeout)
	if err := f.Error(); err != nil {
		switch {
		case errors.Is(err, hraft.ErrNotLeader), errors.Is(err, hraft.ErrLeadershipLost):
			return nil, ErrNotLeader
		case errors.Is(err, hraft.ErrRaftShutdown):
			return nil, ErrShutdown
		default:
			return nil, err
		}
	}
	return f.Response(), nil
}

// IsLeader reports whether this node currently holds leadership.
func (n *Node) IsLeader() bool {
	return n.raft.State() == hraft.Leader
}

// LeaderCh delivers leadership transitions: true on gain, false on loss.
func (n *Node) LeaderCh() <-chan bool {
	return n.raft.LeaderCh()
}

// LastIndex returns the last log index appended to this node's log.
func (n *Node) LastIndex() uint64 {
	return n.raft.LastIndex()
}

// Barrier blocks until every preceding log entry has been applied to the
// state machine on this node. Used by a new leader before reading state.
func (n *Node) Barrier() error {
	f := n.raft.Barrier(applyTimeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, hraft.ErrNotLeader) || errors.Is(err, hraft.ErrLeadershipLost) {
			return ErrNotLeader
		}
		return err
	}
	return nil
}

// Transport exposes the underlying transport for in-memory test wiring.
func (n *Node) Transport() hraft.Transport {
	return n.trans
}

// Shutdown stops the raft node and closes the log store.
func (n *Node) Shutdown() error {
	err := n.raft.Shutdown().Error()
	if n.store != nil {
		if cerr := n.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
