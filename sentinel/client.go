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

package sentinel

import (
	"errors"
	"time"

	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
)

// ErrBadResponse is returned when a sentinel reply cannot be decoded.
var ErrBadResponse = errors.New("malformed sentinel response")

// Client talks to a sentinel: transaction submission for wallets, and
// attestation requests for peer sentinels.
type Client struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewClient returns a client for one sentinel endpoint.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{client: rpc.NewClient(addr), timeout: timeout}
}

// Execute submits a signed transaction and blocks for the settlement
// status.
func (c *Client) Execute(tx *transaction.FullTx) (*ExecuteResponse, error) {
	body, err := binenc.Marshal(&ExecuteRequest{Tx: *tx})
	if err != nil {
		return nil, err
	}
	reply, err := c.client.Call(body, c.timeout)
	if err != nil {
		return nil, err
	}
	var resp ExecuteResponse
	if err := binenc.Unmarshal(reply, &resp); err != nil {
		return nil, ErrBadResponse
	}
	return &resp, nil
}

// Attest asks the sentinel to attest to a compact transaction. A nil
// attestation with a nil error means the sentinel declined.
func (c *Client) Attest(ctx *transaction.CompactTx) (*transaction.Attestation, error) {
	body, err := binenc.Marshal(&AttestRequest{Tx: *ctx})
	if err != nil {
		return nil, err
	}
	reply, err := c.client.Call(body, c.timeout)
	if err != nil {
		return nil, err
	}
	var resp AttestResponse
	if err := binenc.Unmarshal(reply, &resp); err != nil {
		return nil, ErrBadResponse
	}
	return resp.Attestation, nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.client.Close()
}
