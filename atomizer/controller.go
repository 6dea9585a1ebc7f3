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

package atomizer

import (
	"runtime"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/config"
	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/raft"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
	"github.com/opencbdc/go-cbdc/watchtower"
)

var (
	blockTxGauge      = metrics.NewRegisteredGauge("atomizer/block/txs")
	blockHeightGauge  = metrics.NewRegisteredGauge("atomizer/block/height")
	notifyQueueMeter  = metrics.NewRegisteredMeter("atomizer/notify/queued")
	evictErrorCounter = metrics.NewRegisteredCounter("atomizer/notify/errors")
)

const notifyQueueSize = 65536

type aggregateEntry struct {
	tx transaction.CompactTx
	// oldest attestation height seen per input index
	attested map[uint64]uint64
}

// Controller drives the atomizer leader role: it aggregates transaction
// notifications, replicates completed aggregates and block commands, and
// broadcasts sealed blocks to clients and errors to the watchtowers.
type Controller struct {
	opts *config.Options
	node raft.Replicator
	sm   *StateMachine

	clientAddr string
	clientNet  *conn.Manager
	clientMu   sync.Mutex

	watchtowerNet *conn.Manager

	aggMu    sync.Mutex
	agg      map[common.Hash]*aggregateEntry
	complete []AggregateTxNotification

	notifyCh chan *TxNotifyRequest
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewController returns a stopped controller for the given raft node and
// state machine. clientAddr is the leader's client-network listen address.
func NewController(opts *config.Options, node raft.Replicator, sm *StateMachine, clientAddr string) *Controller {
	return &Controller{
		opts:          opts,
		node:          node,
		sm:            sm,
		clientAddr:    clientAddr,
		watchtowerNet: conn.NewManager(),
		agg:           make(map[common.Hash]*aggregateEntry),
		notifyCh:      make(chan *TxNotifyRequest, notifyQueueSize),
		quit:          make(chan struct{}),
	}
}

// Start connects to the watchtowers and launches the worker loops.
func (c *Controller) Start() error {
	if err := c.watchtowerNet.ClusterConnect(c.opts.WatchtowerAddrs, false); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.leadershipLoop()

	c.wg.Add(1)
	go c.batchLoop()

	c.wg.Add(1)
	go c.blockLoop()

	workers := runtime.NumCPU()
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.notificationConsumer()
	}

	logger.Info("Atomizer controller started", "workers", workers, "blockInterval", c.opts.BlockInterval())
	return nil
}

// Stop terminates the worker loops and tears the networks down.
func (c *Controller) Stop() {
	close(c.quit)
	c.closeClientNet()
	c.watchtowerNet.Close()
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
				c.becomeLeader()
			} else {
				c.becomeFollower()
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) becomeLeader() {
	// Aggregation state from a previous term is stale; shards re-notify.
	c.aggMu.Lock()
	c.agg = make(map[common.Hash]*aggregateEntry)
	c.complete = nil
	c.aggMu.Unlock()

	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	mgr := conn.NewManager()
	if _, err := mgr.StartServer(c.clientAddr, c.serverHandler); err != nil {
		logger.Crit("Failed to establish atomizer server", "addr", c.clientAddr, "err", err)
	}
	c.clientNet = mgr
	logger.Debug("Became leader, started listening", "addr", c.clientAddr)
}

func (c *Controller) becomeFollower() {
	c.closeClientNet()
	logger.Debug("Became follower, stopped listening")
}

func (c *Controller) closeClientNet() {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.clientNet != nil {
		c.clientNet.Close()
		c.clientNet = nil
	}
}

// serverHandler demultiplexes one client-network packet. Only the leader
// serves clients; the listener only runs while leadership is held.
func (c *Controller) serverHandler(msg conn.Message) []byte {
	if len(msg.Payload) == 0 || !c.node.IsLeader() {
		return nil
	}
	body := msg.Payload[1:]
	switch msg.Payload[0] {
	case MsgTxNotify:
		req := new(TxNotifyRequest)
		if err := binenc.Unmarshal(body, req); err != nil {
			logger.Error("Invalid tx notification packet", "peer", msg.Peer, "err", err)
			return nil
		}
		notifyQueueMeter.Mark(1)
		select {
		case c.notifyCh <- req:
		case <-c.quit:
		}
	case MsgPrune:
		req := new(PruneRequest)
		d := newBodyDecoder(body)
		req.Height = d.ReadUint64()
		if d.Err() != nil {
			logger.Error("Invalid prune packet", "peer", msg.Peer)
			return nil
		}
		if buf, err := binenc.Marshal(req); err == nil {
			go c.node.Replicate(buf)
		}
	case MsgGetBlock:
		req := new(GetBlockRequest)
		d := newBodyDecoder(body)
		req.Height = d.ReadUint64()
		if d.Err() != nil {
			logger.Error("Invalid get block packet", "peer", msg.Peer)
			return nil
		}
		return c.handleGetBlock(req)
	default:
		logger.Error("Invalid request packet", "peer", msg.Peer, "tag", msg.Payload[0])
	}
	return nil
}

func (c *Controller) handleGetBlock(req *GetBlockRequest) []byte {
	buf, err := binenc.Marshal(req)
	if err != nil {
		return nil
	}
	res, err := c.node.Replicate(buf)
	if err != nil {
		logger.Error("Failed to replicate get block", "height", req.Height, "err", err)
		return nil
	}
	result, ok := res.(getBlockResult)
	if !ok {
		return nil
	}
	var out []byte
	out = append(out, MsgGetBlockResponse)
	var body []byte
	if result.block != nil {
		body, err = binenc.Marshal(result.block)
		if err != nil {
			return nil
		}
		out = append(out, 1)
		return append(out, body...)
	}
	return append(out, 0)
}

// notificationConsumer drains the notification queue, merging attestations
// into the per-leader aggregation table.
func (c *Controller) notificationConsumer() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.notifyCh:
			c.txNotify(req)
		case <-c.quit:
			return
		}
	}
}

// txNotify merges a shard notification. Only the oldest height per input
// index is retained; when the distinct index count reaches the input
// count, the aggregate moves to the complete queue.
func (c *Controller) txNotify(req *TxNotifyRequest) {
	c.aggMu.Lock()
	defer c.aggMu.Unlock()

	entry, ok := c.agg[req.Tx.ID]
	if !ok {
		entry = &aggregateEntry{tx: req.Tx, attested: make(map[uint64]uint64)}
		c.agg[req.Tx.ID] = entry
	}
	for _, idx := range req.InputIndices {
		if prev, seen := entry.attested[idx]; !seen || req.BlockHeight < prev {
			entry.attested[idx] = req.BlockHeight
		}
	}
	if len(entry.attested) < len(entry.tx.Inputs) {
		return
	}
	delete(c.agg, req.Tx.ID)
	oldest := uint64(0)
	first := true
	for _, h := range entry.attested {
		if first || h < oldest {
			oldest = h
			first = false
		}
	}
	c.complete = append(c.complete, AggregateTxNotification{
		Tx:                entry.tx,
		OldestAttestation: oldest,
	})
}

// batchLoop replicates the completed-aggregate queue in batches, sleeping
// briefly when there is nothing to send.
func (c *Controller) batchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}
		if !c.sendCompleteTxs() {
			select {
			case <-time.After(c.opts.BatchSendDelay()):
			case <-c.quit:
				return
			}
		}
	}
}

func (c *Controller) sendCompleteTxs() bool {
	c.aggMu.Lock()
	batch := c.complete
	c.complete = nil
	c.aggMu.Unlock()
	if len(batch) == 0 {
		return false
	}

	req := &AggregateTxNotifyRequest{Aggregates: batch}
	buf, err := binenc.Marshal(req)
	if err != nil {
		logger.Error("Failed to encode aggregate batch", "err", err)
		return false
	}
	res, err := c.node.Replicate(buf)
	if err != nil {
		logger.Warn("Failed to replicate aggregate batch", "count", len(batch), "err", err)
		return false
	}
	if errs, ok := res.(watchtower.TxErrors); ok && len(errs) > 0 {
		evictErrorCounter.Inc(int64(len(errs)))
		c.broadcastErrors(errs)
	}
	return true
}

// blockLoop issues a make_block command every block interval while this
// node is the leader.
func (c *Controller) blockLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.BlockInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.node.IsLeader() {
				continue
			}
			c.makeBlock()
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) makeBlock() {
	buf, err := binenc.Marshal(&MakeBlockRequest{})
	if err != nil {
		return
	}
	res, err := c.node.Replicate(buf)
	if err != nil {
		logger.Error("Failed to make block", "err", err)
		return
	}
	resp, ok := res.(*MakeBlockResponse)
	if !ok {
		return
	}

	blockTxGauge.Update(int64(len(resp.Block.Transactions)))
	blockHeightGauge.Update(int64(resp.Block.Height))

	payload, err := binenc.Marshal(&resp.Block)
	if err != nil {
		logger.Error("Failed to encode block", "height", resp.Block.Height, "err", err)
		return
	}
	c.clientMu.Lock()
	if c.clientNet != nil {
		c.clientNet.Broadcast(append([]byte{MsgBlock}, payload...))
	}
	c.clientMu.Unlock()

	logger.Info("Block sealed",
		"height", resp.Block.Height,
		"txs", len(resp.Block.Transactions),
		"logIndex", c.node.LastIndex(),
		"notifications", c.sm.NotifyCount())

	errs := resp.Errors
	errs = append(errs, c.evictStaleAggregates(resp.Block.Height)...)
	if len(errs) > 0 {
		c.broadcastErrors(errs)
	}
}

// evictStaleAggregates drops aggregation entries whose newest attestation
// can no longer be covered by the spent cache. Shards would have to
// re-attest at a current height anyway, so the owner is told now rather
// than never.
func (c *Controller) evictStaleAggregates(height uint64) watchtower.TxErrors {
	depth := c.opts.StxoCacheDepth
	var errs watchtower.TxErrors
	c.aggMu.Lock()
	for id, entry := range c.agg {
		newest := uint64(0)
		for _, h := range entry.attested {
			if h > newest {
				newest = h
			}
		}
		if newest+depth <= height {
			delete(c.agg, id)
			errs = append(errs, watchtower.TxError{
				TxID: id,
				Code: watchtower.ErrCodeIncomplete,
			})
		}
	}
	c.aggMu.Unlock()
	if len(errs) > 0 {
		evictErrorCounter.Inc(int64(len(errs)))
	}
	return errs
}

func (c *Controller) broadcastErrors(errs watchtower.TxErrors) {
	payload, err := binenc.Marshal(errs)
	if err != nil {
		return
	}
	c.watchtowerNet.Broadcast(payload)
}
