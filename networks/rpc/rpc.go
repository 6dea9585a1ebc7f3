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

// Package rpc layers request/response semantics over the connection
// manager: every request carries an 8-byte request ID echoed by the reply.
// Client supports blocking calls and async calls demultiplexed through a
// callback table.
package rpc

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/networks/conn"
)

var logger = log.NewModuleLogger(log.NetworksRPC)

const headerLen = 8

var (
	// ErrTimeout is returned when no response arrives before the deadline.
	ErrTimeout = errors.New("rpc timeout")
	// ErrDisconnected is returned when the transport is down.
	ErrDisconnected = errors.New("rpc transport disconnected")
	// ErrShortPacket is returned for frames smaller than the header.
	ErrShortPacket = errors.New("rpc packet too short")
)

// Handler serves one request body and returns the response body, or an
// error to drop the request without replying.
type Handler func(peer conn.PeerID, body []byte) ([]byte, error)

// Server dispatches framed requests to a Handler, echoing request IDs.
type Server struct {
	mgr     *conn.Manager
	done    <-chan error
	closeMu sync.Mutex
	closed  bool
}

// NewServer starts an RPC server listening on addr.
func NewServer(addr string, handler Handler) (*Server, error) {
	mgr := conn.NewManager()
	done, err := mgr.StartServer(addr, func(msg conn.Message) []byte {
		if len(msg.Payload) < headerLen {
			logger.Warn("Dropping short rpc packet", "peer", msg.Peer)
			return nil
		}
		reqID := msg.Payload[:headerLen]
		body, err := handler(msg.Peer, msg.Payload[headerLen:])
		if err != nil {
			logger.Debug("Dropping rpc request", "peer", msg.Peer, "err", err)
			return nil
		}
		reply := make([]byte, headerLen+len(body))
		copy(reply, reqID)
		copy(reply[headerLen:], body)
		return reply
	})
	if err != nil {
		return nil, err
	}
	return &Server{mgr: mgr, done: done}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.mgr.Addr()
}

// Close shuts the server down.
func (s *Server) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.mgr.Close()
}

// ResponseCallback receives an async call's response body, or an error.
type ResponseCallback func(body []byte, err error)

type pendingCall struct {
	cb ResponseCallback
}

// Client is a connection to a single RPC server. It is safe for concurrent
// use; calls in flight are demultiplexed by request ID.
type Client struct {
	addr string

	mu      sync.Mutex
	mgr     *conn.Manager
	peer    conn.PeerID
	nextID  uint64
	pending map[uint64]*pendingCall
	closed  bool
}

// NewClient returns an unconnected client for addr. The connection is
// established lazily on the first call and re-established after failures.
func NewClient(addr string) *Client {
	return &Client{
		addr:    addr,
		pending: make(map[uint64]*pendingCall),
	}
}

func (c *Client) ensureConnected() error {
	if c.closed {
		return ErrDisconnected
	}
	if c.mgr != nil {
		return nil
	}
	mgr := conn.NewManager()
	peer, err := mgr.Connect(c.addr, c.dispatch)
	if err != nil {
		mgr.Close()
		return err
	}
	c.mgr = mgr
	c.peer = peer
	return nil
}

func (c *Client) dispatch(msg conn.Message) []byte {
	if len(msg.Payload) < headerLen {
		return nil
	}
	reqID := binary.BigEndian.Uint64(msg.Payload[:headerLen])
	c.mu.Lock()
	call, ok := c.pending[reqID]
	delete(c.pending, reqID)
	c.mu.Unlock()
	if ok {
		call.cb(msg.Payload[headerLen:], nil)
	}
	return nil
}

func (c *Client) send(body []byte, cb ResponseCallback) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}
	c.nextID++
	reqID := c.nextID
	payload := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint64(payload[:headerLen], reqID)
	copy(payload[headerLen:], body)
	c.pending[reqID] = &pendingCall{cb: cb}
	if err := c.mgr.Send(payload, c.peer); err != nil {
		delete(c.pending, reqID)
		c.dropConnLocked()
		return 0, err
	}
	return reqID, nil
}

func (c *Client) dropConnLocked() {
	if c.mgr != nil {
		go c.mgr.Close()
		c.mgr = nil
	}
	for id, call := range c.pending {
		delete(c.pending, id)
		go call.cb(nil, ErrDisconnected)
	}
}

// CallAsync issues a request and invokes cb with the response once it
// arrives. The callback runs on the transport goroutine.
func (c *Client) CallAsync(body []byte, cb ResponseCallback) error {
	_, err := c.send(body, cb)
	return err
}

// Call issues a request and blocks until the response arrives or the
// timeout expires. On timeout the pending entry is abandoned; a late reply
// is discarded.
func (c *Client) Call(body []byte, timeout time.Duration) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	ch := make(chan result, 1)
	reqID, err := c.send(body, func(b []byte, err error) {
		ch <- result{body: b, err: err}
	})
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.body, res.err
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return nil, ErrTimeout
	}
}

// Close tears the connection down and fails every pending call.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropConnLocked()
}
