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

package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/raft"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

var (
	dtxCommittedCounter = metrics.NewRegisteredCounter("coordinator/dtx/committed")
	dtxAbortedCounter   = metrics.NewRegisteredCounter("coordinator/dtx/aborted")
	dtxRecoveredCounter = metrics.NewRegisteredCounter("coordinator/dtx/recovered")
)

const (
	retryInitial = 100 * time.Millisecond
	retryCap     = 10 * time.Second
)

// ErrNotProcessing is returned when the coordinator abandons a dtx because
// it is no longer the leader; the new leader finishes the dtx.
var ErrNotProcessing = errors.New("coordinator lost leadership mid-dtx")

// Controller drives distributed transactions across the locking shards.
// It is itself a replicated state machine client: every phase transition
// is durable in the coordinator log before the matching shard calls go
// out, so a new leader can always resume in-flight dtxs.
type Controller struct {
	sm     *StateMachine
	node   raft.Replicator
	shards []lockingshard.ShardClient

	clientAddr string
	srvMu      sync.Mutex
	srv        *rpc.Server

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewController returns a stopped controller serving sentinels on
// clientAddr and committing through the given shard clients.
func NewController(sm *StateMachine, node raft.Replicator,
	shards []lockingshard.ShardClient, clientAddr string) *Controller {
	return &Controller{
		sm:         sm,
		node:       node,
		shards:     shards,
		clientAddr: clientAddr,
		quit:       make(chan struct{}),
	}
}

// Start launches the leadership watcher.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.leadershipLoop()
	logger.Info("Coordinator controller started", "shards", len(c.shards))
}

// Stop terminates the controller.
func (c *Controller) Stop() {
	close(c.quit)
	c.stopServer()
	c.wg.Wait()
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
				c.recover()
				c.startServer()
			} else {
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
	srv, err := rpc.NewAsyncServer(c.clientAddr, c.handleExecute)
	if err != nil {
		logger.Crit("Failed to start coordinator server", "addr", c.clientAddr, "err", err)
	}
	c.srv = srv
	logger.Debug("Became leader, started listening", "addr", c.clientAddr)
}

func (c *Controller) stopServer() {
	c.srvMu.Lock()
	defer c.srvMu.Unlock()
	if c.srv != nil {
		c.srv.Close()
		c.srv = nil
	}
}

func (c *Controller) handleExecute(_ conn.PeerID, body []byte, respond func([]byte)) {
	var req ExecuteRequest
	if err := binenc.Unmarshal(body, &req); err != nil {
		logger.Error("Invalid execute request", "err", err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		committed, err := c.ExecuteTx(req.Tx)
		if err != nil {
			// No reply: the sentinel retries against the next leader.
			logger.Debug("Abandoned execute request", "tx", req.Tx.Tx.ID, "err", err)
			return
		}
		reply, err := binenc.Marshal(&ExecuteResponse{Committed: committed})
		if err != nil {
			return
		}
		respond(reply)
	}()
}

// ExecuteTx runs the full dtx protocol for a single transaction batch of
// one. The returned bool is the commit decision.
func (c *Controller) ExecuteTx(tx lockingshard.Tx) (bool, error) {
	flags, err := c.ExecuteBatch([]lockingshard.Tx{tx})
	if err != nil {
		return false, err
	}
	return flags[0], nil
}

// ExecuteBatch atomically settles a batch of compact transactions under a
// fresh dtx ID, returning the per-transaction commit decisions.
func (c *Controller) ExecuteBatch(txs []lockingshard.Tx) ([]bool, error) {
	dtxID := common.RandomHash()
	for c.sm.ContainsDtx(dtxID) {
		dtxID = common.RandomHash()
	}

	prep := &PrepareCommand{DtxID: dtxID, Txs: txs}
	buf, err := binenc.Marshal(prep)
	if err != nil {
		return nil, err
	}
	res, err := c.node.Replicate(buf)
	if err != nil {
		return nil, err
	}
	epoch, ok := res.(uint64)
	if !ok {
		return nil, errUnknownCommand
	}
	for i := range txs {
		txs[i].Epoch = epoch
	}

	flags, err := c.runLockPhase(dtxID, txs)
	if err != nil {
		return nil, err
	}
	if err := c.runApplyPhase(dtxID, txs, flags); err != nil {
		return nil, err
	}
	if err := c.runDiscardPhase(dtxID); err != nil {
		return nil, err
	}

	for _, f := range flags {
		if f {
			dtxCommittedCounter.Inc(1)
		} else {
			dtxAbortedCounter.Inc(1)
		}
	}
	return flags, nil
}

// runLockPhase issues lock_outputs on every responsible shard, combines
// the per-shard results into commit decisions, and replicates the commit
// record. Returns the commit flags.
func (c *Controller) runLockPhase(dtxID common.Hash, txs []lockingshard.Tx) ([]bool, error) {
	shardSet := c.shardsFor(txs)

	type lockResult struct {
		shard int
		ok    []bool
	}
	results := make([]lockResult, len(shardSet))
	var wg sync.WaitGroup
	errCh := make(chan error, len(shardSet))
	for i, shardIdx := range shardSet {
		wg.Add(1)
		go func(slot, shardIdx int) {
			defer wg.Done()
			var ok []bool
			err := c.withRetry(func() error {
				var lerr error
				ok, lerr = c.shards[shardIdx].Lock(dtxID, txs)
				return lerr
			})
			if err != nil {
				errCh <- err
				return
			}
			results[slot] = lockResult{shard: shardIdx, ok: ok}
		}(i, shardIdx)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return nil, err
	default:
	}

	flags := make([]bool, len(txs))
	for i := range flags {
		flags[i] = true
	}
	states := make([]ShardState, 0, len(results))
	for _, res := range results {
		for i, ok := range res.ok {
			if !ok {
				flags[i] = false
			}
		}
		states = append(states, ShardState{Shard: uint64(res.shard), OK: res.ok})
	}

	commit := &CommitCommand{DtxID: dtxID, CommitFlags: flags, ShardStates: states}
	buf, err := binenc.Marshal(commit)
	if err != nil {
		return nil, err
	}
	res, err := c.node.Replicate(buf)
	if err != nil {
		return nil, err
	}
	if cmdErr, ok := res.(error); ok {
		return nil, cmdErr
	}
	return flags, nil
}

// runApplyPhase issues apply_outputs on every shard in the dtx's shard
// set and replicates the discard record, making the decision durable
// before any client learns it. Only shards that prepared the dtx may be
// applied; an apply on any other shard is a protocol violation there.
func (c *Controller) runApplyPhase(dtxID common.Hash, txs []lockingshard.Tx, flags []bool) error {
	if err := c.forEachShardIn(c.shardsFor(txs), func(s lockingshard.ShardClient) error {
		return s.Apply(dtxID, flags)
	}); err != nil {
		return err
	}
	buf, err := binenc.Marshal(&DiscardCommand{DtxID: dtxID})
	if err != nil {
		return err
	}
	_, err = c.node.Replicate(buf)
	return err
}

// runDiscardPhase issues discard_dtx on every shard, then retires the dtx
// from the replicated table. Discard of an unknown dtx is a shard-side
// no-op, so the full shard set is used; discard-phase records do not
// retain the batch needed to recompute ownership.
func (c *Controller) runDiscardPhase(dtxID common.Hash) error {
	if err := c.forEachShardIn(allShards(len(c.shards)), func(s lockingshard.ShardClient) error {
		return s.Discard(dtxID)
	}); err != nil {
		return err
	}
	buf, err := binenc.Marshal(&DoneCommand{DtxID: dtxID})
	if err != nil {
		return err
	}
	_, err = c.node.Replicate(buf)
	return err
}

// forEachShardIn runs fn against the given shard indices in parallel,
// each with retry.
func (c *Controller) forEachShardIn(indices []int, fn func(lockingshard.ShardClient) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(indices))
	for _, idx := range indices {
		wg.Add(1)
		go func(s lockingshard.ShardClient) {
			defer wg.Done()
			if err := c.withRetry(func() error { return fn(s) }); err != nil {
				errCh <- err
			}
		}(c.shards[idx])
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func allShards(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// shardsFor returns the indices of shards owning any input or output of
// the batch.
func (c *Controller) shardsFor(txs []lockingshard.Tx) []int {
	var out []int
	for i, s := range c.shards {
		r := s.Range()
		if batchTouchesRange(txs, r) {
			out = append(out, i)
		}
	}
	return out
}

func batchTouchesRange(txs []lockingshard.Tx, r common.Range) bool {
	for i := range txs {
		for _, h := range txs[i].Tx.Inputs {
			if r.Contains(h) {
				return true
			}
		}
		for _, h := range txs[i].Tx.Outputs {
			if r.Contains(h) {
				return true
			}
		}
	}
	return false
}

// withRetry runs fn until it succeeds, retrying transport failures with
// capped exponential backoff. It aborts with ErrNotProcessing when this
// node stops leading: the dtx is then the next leader's responsibility.
func (c *Controller) withRetry(fn func() error) error {
	delay := retryInitial
	for {
		if !c.node.IsLeader() {
			return ErrNotProcessing
		}
		err := fn()
		if err == nil {
			return nil
		}
		logger.Debug("Retrying shard call", "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-c.quit:
			return ErrNotProcessing
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
}

// recover finishes every dtx left in flight by the previous leader:
// prepare-phase dtxs resume at the lock phase (locks are idempotent),
// commit-phase dtxs at the apply phase, discard-phase dtxs at the shard
// discard phase. No dtx is lost or double-completed.
func (c *Controller) recover() {
	if err := c.node.Barrier(); err != nil {
		logger.Warn("Recovery barrier failed", "err", err)
		return
	}
	st := c.sm.Get()
	total := len(st.PrepareTxs) + len(st.CommitTxs) + len(st.DiscardTxs)
	if total == 0 {
		return
	}
	logger.Info("Recovering in-flight dtxs",
		"prepare", len(st.PrepareTxs), "commit", len(st.CommitTxs), "discard", len(st.DiscardTxs))
	dtxRecoveredCounter.Inc(int64(total))

	for dtxID, rec := range st.PrepareTxs {
		c.wg.Add(1)
		go func(dtxID common.Hash, rec PrepareRecord) {
			defer c.wg.Done()
			flags, err := c.runLockPhase(dtxID, rec.Txs)
			if err != nil {
				logger.Warn("Recovery lock phase abandoned", "dtx", dtxID, "err", err)
				return
			}
			if err := c.runApplyPhase(dtxID, rec.Txs, flags); err != nil {
				return
			}
			c.runDiscardPhase(dtxID)
		}(dtxID, rec)
	}
	for dtxID, rec := range st.CommitTxs {
		c.wg.Add(1)
		go func(dtxID common.Hash, rec CommitRecord) {
			defer c.wg.Done()
			if err := c.runApplyPhase(dtxID, rec.Txs, rec.CommitFlags); err != nil {
				logger.Warn("Recovery apply phase abandoned", "dtx", dtxID, "err", err)
				return
			}
			c.runDiscardPhase(dtxID)
		}(dtxID, rec)
	}
	for dtxID := range st.DiscardTxs {
		c.wg.Add(1)
		go func(dtxID common.Hash) {
			defer c.wg.Done()
			if err := c.runDiscardPhase(dtxID); err != nil {
				logger.Warn("Recovery discard phase abandoned", "dtx", dtxID, "err", err)
			}
		}(dtxID)
	}
}
