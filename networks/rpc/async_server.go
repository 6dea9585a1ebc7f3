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

package rpc

import (
	"github.com/opencbdc/go-cbdc/networks/conn"
)

// AsyncHandler serves one request and replies whenever ready through the
// respond callback, freeing the connection to process further requests.
// Not invoking respond drops the request.
type AsyncHandler func(peer conn.PeerID, body []byte, respond func([]byte))

// NewAsyncServer starts an RPC server whose handler replies out of band.
// Long-running request processing must not block the handler itself; spawn
// a goroutine and call respond when done.
func NewAsyncServer(addr string, handler AsyncHandler) (*Server, error) {
	mgr := conn.NewManager()
	done, err := mgr.StartServer(addr, func(msg conn.Message) []byte {
		if len(msg.Payload) < headerLen {
			logger.Warn("Dropping short rpc packet", "peer", msg.Peer)
			return nil
		}
		reqID := make([]byte, headerLen)
		copy(reqID, msg.Payload[:headerLen])
		peer := msg.Peer
		respond := func(body []byte) {
			reply := make([]byte, headerLen+len(body))
			copy(reply, reqID)
			copy(reply[headerLen:], body)
			if err := mgr.Send(reply, peer); err != nil {
				logger.Debug("Failed to send async reply", "peer", peer, "err", err)
			}
		}
		handler(peer, msg.Payload[headerLen:], respond)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Server{mgr: mgr, done: done}, nil
}
