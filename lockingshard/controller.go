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

package lockingshard

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/raft"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

const auditWaitInterval = time.Second

// Controller wires a locking shard into its raft cluster: it replicates
// client commands through the log, serves the client endpoint while this
// node leads, runs the periodic supply audit, and keeps the read-only
// status endpoint up on every replica.
type Controller struct {
	shard *LockingShard
	sm    *StateMachine
	node  raft.Replicator

	clientAddr string
	srvMu      sync.Mutex
	srv        *rpc.Server

	statusSrv *StatusServer

	auditInterval  uint64
	auditLog       *os.File
	lastAuditEpoch uint64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewController returns a stopped controller. auditLogPath is appended to,
// one line per audit epoch; an empty path disables auditing.
func NewController(shard *LockingShard, sm *StateMachine, node raft.Replicator,
	clientAddr, statusAddr, auditLogPath string, auditInterval uint64) (*Controller, error) {
	c := &Controller{
		shard:         shard,
		sm:            sm,
		node:          node,
		clientAddr:    clientAddr,
		auditInterval: auditInterval,
		quit:          make(chan struct{}),
	}
	if auditLogPath != "" {
		f, err := os.OpenFile(auditLogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		c.auditLog = f
	}
	if statusAddr != "" {
		srv, err := NewStatusServer(shard, statusAddr)
		if err != nil {
			if c.auditLog != nil {
				c.auditLog.Close()
			}
			return nil, err
		}
		c.statusSrv = srv
	}
	return c, nil
}

// Start launches the leadership watcher and the audit loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.leadershipLoop()
	if c.auditLog != nil {
		c.wg.Add(1)
		go c.auditLoop()
	}
	logger.Info("Locking shard controller started", "range", c.shard.Range())
}

// Stop terminates the loops and tears the endpoints down.
func (c *Controller) Stop() {
	close(c.quit)
	c.stopServer()
	if c.statusSrv != nil {
		c.statusSrv.Close()
	}
	c.wg.Wait()
	if c.auditLog != nil {
		c.auditLog.Close()
	}
}

func (c *Controller) leadershipLoop() {
	defer c.wg.Done()
	for {
		select {
		case isLeader, ok := <-c.node.LeaderCh():
			if !ok {
				return
			}
			if isLeader {
				c.startServer()
			} else {
				logger.Warn("Became follower, stopping listener")
				c.stopServer()
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) startServer() {
	c.srvMu.Lock()
	defer c.srvMu.Unlock()
	if c.srv != nil {
		c.srv.Close()
	}
	logger.Warn("Became leader, starting listener", "addr", c.clientAddr)
	srv, err := rpc.NewServer(c.clientAddr, c.handle)
	if err != nil {
		logger.Crit("Couldn't start message handler server", "addr", c.clientAddr, "err", err)
	}
	c.srv = srv
}

func (c *Controller) stopServer() {
	c.srvMu.Lock()
	defer c.srvMu.Unlock()
	if c.srv != nil {
		c.srv.Close()
		c.srv = nil
	}
}

// handle replicates one client command and encodes the state machine's
// response. Requests on a follower fail without a reply; the client
// rotates to the next cluster member.
func (c *Controller) handle(_ conn.PeerID, body []byte) ([]byte, error) {
	if _, err := DecodeRequest(body); err != nil {
		return nil, err
	}
	res, err := c.node.Replicate(body)
	if err != nil {
		return nil, err
	}
	switch resp := res.(type) {
	case *LockResponse:
		return binenc.Marshal(resp)
	case error:
		return nil, resp
	default:
		// apply and discard have no response body
		return []byte{}, nil
	}
}

// auditLoop periodically writes a supply summary at the most recent epoch
// divisible by the audit interval, then prunes spent state through it.
func (c *Controller) auditLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-time.After(auditWaitInterval):
		case <-c.quit:
			return
		}
		if !c.node.IsLeader() {
			continue
		}
		highest := c.shard.HighestEpoch()
		if highest-c.lastAuditEpoch <= c.auditInterval {
			continue
		}
		auditEpoch := highest
		if c.auditInterval > 0 {
			auditEpoch = highest - (highest % c.auditInterval)
		}
		if auditEpoch > highest || auditEpoch <= c.lastAuditEpoch {
			continue
		}

		logger.Info("Running audit", "epoch", auditEpoch)
		summary, ok := c.shard.GetSummary(auditEpoch)
		if !ok {
			logger.Error("Error running audit", "epoch", auditEpoch)
			continue
		}
		if _, err := fmt.Fprintf(c.auditLog, "%d %016x\n", auditEpoch, summary); err != nil {
			logger.Error("Failed to append audit record", "epoch", auditEpoch, "err", err)
			continue
		}
		logger.Info("Audit completed", "epoch", auditEpoch, "supply", summary)
		c.lastAuditEpoch = auditEpoch
		c.shard.Prune(auditEpoch)
	}
}
