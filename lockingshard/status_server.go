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
	"time"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// StatusServer answers read-only UHS and transaction status queries on a
// follower-safe endpoint. Answers are non-authoritative: a false may turn
// true moments later on a replica that lags the leader.
type StatusServer struct {
	shard *LockingShard
	srv   *rpc.Server
}

// NewStatusServer starts the read-only endpoint on addr.
func NewStatusServer(shard *LockingShard, addr string) (*StatusServer, error) {
	s := &StatusServer{shard: shard}
	srv, err := rpc.NewServer(addr, s.handle)
	if err != nil {
		return nil, err
	}
	s.srv = srv
	return s, nil
}

func (s *StatusServer) handle(_ conn.PeerID, body []byte) ([]byte, error) {
	req, err := DecodeStatusRequest(body)
	if err != nil {
		return nil, err
	}
	var result bool
	switch r := req.(type) {
	case *UHSStatusRequest:
		result = s.shard.CheckUnspent(r.UHSID)
	case *TxStatusRequest:
		result = s.shard.CheckTxID(r.TxID)
	}
	if result {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// Close shuts the endpoint down.
func (s *StatusServer) Close() {
	s.srv.Close()
}

// StatusClient queries a shard's read-only endpoint.
type StatusClient struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewStatusClient returns a client for a read-only endpoint.
func NewStatusClient(addr string, timeout time.Duration) *StatusClient {
	return &StatusClient{client: rpc.NewClient(addr), timeout: timeout}
}

// CheckUnspent queries UHS ID status.
func (c *StatusClient) CheckUnspent(uhsID common.Hash) (bool, error) {
	body, err := binenc.Marshal(&UHSStatusRequest{UHSID: uhsID})
	if err != nil {
		return false, err
	}
	return c.boolCall(body)
}

// CheckTxID queries confirmed-transaction status.
func (c *StatusClient) CheckTxID(txID common.Hash) (bool, error) {
	body, err := binenc.Marshal(&TxStatusRequest{TxID: txID})
	if err != nil {
		return false, err
	}
	return c.boolCall(body)
}

func (c *StatusClient) boolCall(body []byte) (bool, error) {
	reply, err := c.client.Call(body, c.timeout)
	if err != nil {
		return false, err
	}
	if len(reply) != 1 {
		return false, ErrEmptyResponse
	}
	return reply[0] != 0, nil
}

// Close tears the connection down.
func (c *StatusClient) Close() {
	c.client.Close()
}
