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

// Package conn implements the length-delimited connection manager shared by
// every network surface: listening servers, outbound cluster connections,
// per-peer sends and broadcast. Each connection is assigned a monotone peer
// ID on accept or connect.
package conn

import (
	"container/list"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opencbdc/go-cbdc/log"
)

var logger = log.NewModuleLogger(log.NetworksConn)

var (
	// ErrUnknownPeer is returned by Send for a peer that is not connected.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrClosed is returned once the manager has shut down.
	ErrClosed = errors.New("connection manager closed")
)

// PeerID identifies a connection for the lifetime of the manager.
type PeerID uint64

// Message is a single inbound frame tagged with the peer it arrived from.
type Message struct {
	Peer    PeerID
	Payload []byte
}

// PacketHandler processes one inbound frame and optionally returns a reply
// to write back to the originating peer. A nil reply sends nothing.
type PacketHandler func(msg Message) []byte

type peer struct {
	id   PeerID
	conn net.Conn
	wmu  sync.Mutex
}

func (p *peer) send(payload []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return WriteFrame(p.conn, payload)
}

// Manager owns a set of peers, an optional listener and an inbound message
// queue for callers that prefer pull-style consumption over callbacks.
type Manager struct {
	mu       sync.RWMutex
	peers    map[PeerID]*peer
	nextPeer PeerID
	listener net.Listener
	running  bool

	qmu   sync.Mutex
	qcond *sync.Cond
	queue *list.List

	wg sync.WaitGroup
}

// NewManager returns an idle connection manager.
func NewManager() *Manager {
	m := &Manager{
		peers:   make(map[PeerID]*peer),
		queue:   list.New(),
		running: true,
	}
	m.qcond = sync.NewCond(&m.qmu)
	return m
}

// Reset reinitializes a closed manager so it can listen and connect again.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = make(map[PeerID]*peer)
	m.listener = nil
	m.running = true
	m.qmu.Lock()
	m.queue.Init()
	m.qmu.Unlock()
}

// StartServer listens on addr and spawns a handler goroutine per accepted
// connection. Replies returned by the handler are written back to the
// originating peer. The returned error channel yields the accept-loop exit.
func (m *Manager) StartServer(addr string, handler PacketHandler) (<-chan error, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.listener = l
	m.mu.Unlock()

	done := make(chan error, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			c, err := l.Accept()
			if err != nil {
				done <- err
				return
			}
			p := m.addPeer(c)
			if p == nil {
				c.Close()
				done <- ErrClosed
				return
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.readLoop(p, handler)
			}()
		}
	}()
	return done, nil
}

// Connect dials addr and registers the connection. Inbound frames are
// dispatched to handler, or queued for HandleMessages when handler is nil.
func (m *Manager) Connect(addr string, handler PacketHandler) (PeerID, error) {
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return 0, err
	}
	p := m.addPeer(c)
	if p == nil {
		c.Close()
		return 0, ErrClosed
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.readLoop(p, handler)
	}()
	return p.id, nil
}

// ClusterConnect dials every addr. With failHard set, any dial failure
// closes the established connections and returns the error.
func (m *Manager) ClusterConnect(addrs []string, failHard bool) error {
	for _, addr := range addrs {
		if _, err := m.Connect(addr, nil); err != nil {
			logger.Warn("Cluster connect failed", "addr", addr, "err", err)
			if failHard {
				m.Close()
				return err
			}
		}
	}
	return nil
}

func (m *Manager) addPeer(c net.Conn) *peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.nextPeer++
	p := &peer{id: m.nextPeer, conn: c}
	m.peers[p.id] = p
	return p
}

func (m *Manager) removePeer(id PeerID) {
	m.mu.Lock()
	if p, ok := m.peers[id]; ok {
		p.conn.Close()
		delete(m.peers, id)
	}
	m.mu.Unlock()
}

func (m *Manager) readLoop(p *peer, handler PacketHandler) {
	defer m.removePeer(p.id)
	for {
		payload, err := ReadFrame(p.conn)
		if err != nil {
			return
		}
		msg := Message{Peer: p.id, Payload: payload}
		if handler != nil {
			if reply := handler(msg); reply != nil {
				if err := p.send(reply); err != nil {
					return
				}
			}
			continue
		}
		m.qmu.Lock()
		if !m.queueOpen() {
			m.qmu.Unlock()
			return
		}
		m.queue.PushBack(msg)
		m.qcond.Signal()
		m.qmu.Unlock()
	}
}

func (m *Manager) queueOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// HandleMessages blocks until an inbound frame is queued or the manager is
// closed, in which case ok is false.
func (m *Manager) HandleMessages() (msg Message, ok bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	for m.queue.Len() == 0 {
		if !m.queueOpen() {
			return Message{}, false
		}
		m.qcond.Wait()
	}
	front := m.queue.Front()
	m.queue.Remove(front)
	return front.Value.(Message), true
}

// Addr returns the listener address, or "" when not listening. Useful
// when the manager was started on an ephemeral port.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Send writes a frame to a single peer.
func (m *Manager) Send(payload []byte, id PeerID) error {
	m.mu.RLock()
	p, ok := m.peers[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	return p.send(payload)
}

// Broadcast writes a frame to every connected peer. Peers that fail the
// write are dropped.
func (m *Manager) Broadcast(payload []byte) {
	m.mu.RLock()
	ps := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		ps = append(ps, p)
	}
	m.mu.RUnlock()
	for _, p := range ps {
		if err := p.send(payload); err != nil {
			logger.Debug("Dropping peer after failed broadcast", "peer", p.id, "err", err)
			m.removePeer(p.id)
		}
	}
}

// PeerCount returns the number of live peers.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Close tears down the listener and every peer and wakes queue waiters.
// The manager can be reused after Reset.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	if m.listener != nil {
		m.listener.Close()
	}
	for id, p := range m.peers {
		p.conn.Close()
		delete(m.peers, id)
	}
	m.mu.Unlock()

	m.qmu.Lock()
	m.qcond.Broadcast()
	m.qmu.Unlock()

	m.wg.Wait()
}
