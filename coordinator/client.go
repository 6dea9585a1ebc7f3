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
	"time"

	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// ErrBadResponse is returned when a coordinator reply cannot be decoded.
var ErrBadResponse = errors.New("malformed coordinator response")

// Client submits compact transactions to a coordinator cluster.
type Client struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewClient returns a client for one coordinator endpoint. The timeout
// must cover a full dtx round trip including shard retries.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{client: rpc.NewClient(addr), timeout: timeout}
}

// Execute settles the transaction, blocking until the coordinator reports
// the durable commit decision.
func (c *Client) Execute(tx lockingshard.Tx) (bool, error) {
	body, err := binenc.Marshal(&ExecuteRequest{Tx: tx})
	if err != nil {
		return false, err
	}
	reply, err := c.client.Call(body, c.timeout)
	if err != nil {
		return false, err
	}
	var resp ExecuteResponse
	if err := binenc.Unmarshal(reply, &resp); err != nil {
		return false, ErrBadResponse
	}
	return resp.Committed, nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.client.Close()
}
