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
	"errors"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// ErrEmptyResponse is returned when a shard reply cannot be decoded.
var ErrEmptyResponse = errors.New("malformed shard response")

// ShardClient is the coordinator-facing interface of one shard cluster.
// Implementations are expected to be idempotent-safe: every method may be
// retried with the same arguments.
type ShardClient interface {
	// Range returns the hash-prefix range the shard owns.
	Range() common.Range
	// Lock requests input locks for the dtx batch.
	Lock(dtxID common.Hash, txs []Tx) ([]bool, error)
	// Apply finalizes a prepared dtx.
	Apply(dtxID common.Hash, commitFlags []bool) error
	// Discard forgets an applied dtx.
	Discard(dtxID common.Hash) error
}

// Client is the TCP ShardClient talking to a shard cluster's leader. A
// call that fails on one endpoint rotates to the next on retry.
type Client struct {
	shardRange common.Range
	addrs      []string
	clients    []*rpc.Client
	timeout    time.Duration

	mu      sync.Mutex
	current int
}

// NewClient returns a client for a shard cluster. addrs lists the client
// endpoints of every cluster member; only the leader will answer.
func NewClient(shardRange common.Range, addrs []string, timeout time.Duration) *Client {
	c := &Client{
		shardRange: shardRange,
		addrs:      addrs,
		timeout:    timeout,
	}
	for _, addr := range addrs {
		c.clients = append(c.clients, rpc.NewClient(addr))
	}
	return c
}

// Range implements ShardClient.
func (c *Client) Range() common.Range { return c.shardRange }

// Lock implements ShardClient.
func (c *Client) Lock(dtxID common.Hash, txs []Tx) ([]bool, error) {
	body, err := binenc.Marshal(&LockRequest{DtxID: dtxID, Txs: txs})
	if err != nil {
		return nil, err
	}
	reply, err := c.roundTrip(body)
	if err != nil {
		return nil, err
	}
	var resp LockResponse
	if err := binenc.Unmarshal(reply, &resp); err != nil {
		return nil, ErrEmptyResponse
	}
	return resp.OK, nil
}

// Apply implements ShardClient.
func (c *Client) Apply(dtxID common.Hash, commitFlags []bool) error {
	body, err := binenc.Marshal(&ApplyRequest{DtxID: dtxID, CommitFlags: commitFlags})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(body)
	return err
}

// Discard implements ShardClient.
func (c *Client) Discard(dtxID common.Hash) error {
	body, err := binenc.Marshal(&DiscardRequest{DtxID: dtxID})
	if err != nil {
		return err
	}
	_, err = c.roundTrip(body)
	return err
}

// roundTrip issues the request against the currently preferred endpoint,
// rotating to the next member on failure.
func (c *Client) roundTrip(body []byte) ([]byte, error) {
	var lastErr error
	for range c.clients {
		c.mu.Lock()
		idx := c.current
		c.mu.Unlock()
		reply, err := c.clients[idx].Call(body, c.timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		c.mu.Lock()
		if c.current == idx {
			c.current = (c.current + 1) % len(c.clients)
		}
		c.mu.Unlock()
	}
	return nil, lastErr
}

// Close tears down every member connection.
func (c *Client) Close() {
	for _, cl := range c.clients {
		cl.Close()
	}
}
