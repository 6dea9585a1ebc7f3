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

package archiver

import (
	"time"

	"github.com/opencbdc/go-cbdc/atomizer"
	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

var storedHeightGauge = metrics.NewRegisteredGauge("archiver/height")

// BlockSink receives sealed blocks; the Kafka feed implements it.
type BlockSink interface {
	PublishBlock(blk *atomizer.Block) error
}

// Service subscribes to the atomizer block stream, persists blocks, prunes
// the atomizer's in-memory cache behind the stored height, and serves
// get-block requests from clients.
type Service struct {
	store *Store

	atomizerNet *conn.Manager
	srv         *rpc.Server
	sinks       []BlockSink
}

// NewService starts an archiver: it connects to the atomizer leader's
// client endpoint, listens for clients on clientAddr, and forwards each
// stored block to the given sinks.
func NewService(store *Store, atomizerAddrs []string, clientAddr string, sinks []BlockSink) (*Service, error) {
	s := &Service{
		store:       store,
		atomizerNet: conn.NewManager(),
		sinks:       sinks,
	}
	if err := s.atomizerNet.ClusterConnect(atomizerAddrs, false); err != nil {
		return nil, err
	}

	srv, err := rpc.NewServer(clientAddr, s.handleClient)
	if err != nil {
		s.atomizerNet.Close()
		return nil, err
	}
	s.srv = srv

	go s.blockLoop()
	logger.Info("Archiver started", "clientAddr", clientAddr)
	return s, nil
}

// blockLoop drains atomizer broadcasts.
func (s *Service) blockLoop() {
	for {
		msg, ok := s.atomizerNet.HandleMessages()
		if !ok {
			return
		}
		if len(msg.Payload) == 0 || msg.Payload[0] != atomizer.MsgBlock {
			continue
		}
		var blk atomizer.Block
		if err := binenc.Unmarshal(msg.Payload[1:], &blk); err != nil {
			logger.Warn("Dropping malformed block broadcast", "err", err)
			continue
		}
		s.storeBlock(&blk)
	}
}

func (s *Service) storeBlock(blk *atomizer.Block) {
	if err := s.store.PutBlock(blk); err != nil {
		logger.Error("Failed to store block", "height", blk.Height, "err", err)
		return
	}
	best, err := s.store.BestHeight()
	if err == nil {
		storedHeightGauge.Update(int64(best))
		s.pruneAtomizer(best)
	}
	logger.Debug("Stored block", "height", blk.Height, "txs", len(blk.Transactions))

	for _, sink := range s.sinks {
		if err := sink.PublishBlock(blk); err != nil {
			logger.Warn("Block sink failed", "height", blk.Height, "err", err)
		}
	}
}

// pruneAtomizer tells the atomizer it no longer needs cache entries below
// the durably stored height.
func (s *Service) pruneAtomizer(below uint64) {
	var req atomizer.PruneRequest
	req.Height = below
	var payload []byte
	payload = append(payload, atomizer.MsgPrune)
	body, err := binenc.Marshal(&req)
	if err != nil {
		return
	}
	// Strip the replicated-command tag; the client envelope has its own.
	s.atomizerNet.Broadcast(append(payload, body[1:]...))
}

func (s *Service) handleClient(_ conn.PeerID, body []byte) ([]byte, error) {
	if len(body) != 8 {
		return nil, rpc.ErrShortPacket
	}
	var height uint64
	for i := 0; i < 8; i++ {
		height = height<<8 | uint64(body[i])
	}
	blk, err := s.store.GetBlock(height)
	if err != nil {
		return nil, err
	}
	var out []byte
	if blk == nil {
		return append(out, 0), nil
	}
	buf, err := binenc.Marshal(blk)
	if err != nil {
		return nil, err
	}
	out = append(out, 1)
	return append(out, buf...), nil
}

// Close shuts the archiver down. Closing the atomizer network wakes the
// block loop, which then exits.
func (s *Service) Close() {
	s.srv.Close()
	s.atomizerNet.Close()
}

// Client fetches historical blocks from an archiver.
type Client struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewClient returns a client for an archiver endpoint.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{client: rpc.NewClient(addr), timeout: timeout}
}

// GetBlock fetches the block at height, returning nil if the archiver
// does not have it yet.
func (c *Client) GetBlock(height uint64) (*atomizer.Block, error) {
	body := blockKey(height)
	reply, err := c.client.Call(body, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, rpc.ErrShortPacket
	}
	if reply[0] == 0 {
		return nil, nil
	}
	var blk atomizer.Block
	if err := binenc.Unmarshal(reply[1:], &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.client.Close()
}
