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

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/opencbdc/go-cbdc/coordinator"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/networks/rpc"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
)

var logger = log.NewModuleLogger(log.Sentinel)

var (
	acceptedCounter      = metrics.NewRegisteredCounter("sentinel/accepted")
	staticInvalidCounter = metrics.NewRegisteredCounter("sentinel/static_invalid")
)

const coordinatorRetryDelay = 100 * time.Millisecond

// ErrStopped is returned when the controller shuts down mid-request.
var ErrStopped = errors.New("sentinel stopped")

// Controller validates and attests transactions, then drives them through
// a coordinator. Peer sentinels supply additional attestations when the
// shard threshold exceeds one.
type Controller struct {
	id   uint32
	priv *btcec.PrivateKey

	threshold int
	coord     *coordinator.Client
	peers     []*Client

	srv  *rpc.Server
	quit chan struct{}
}

// NewController returns a stopped sentinel controller. coordAddr selects
// the coordinator this sentinel submits to; peerAddrs are the other
// sentinels used to top up attestations.
func NewController(id uint32, priv *btcec.PrivateKey, threshold int,
	coordAddr string, coordTimeout time.Duration, peerAddrs []string) *Controller {
	c := &Controller{
		id:        id,
		priv:      priv,
		threshold: threshold,
		coord:     coordinator.NewClient(coordAddr, coordTimeout),
		quit:      make(chan struct{}),
	}
	for _, addr := range peerAddrs {
		c.peers = append(c.peers, NewClient(addr, 5*time.Second))
	}
	return c
}

// Start begins serving on addr.
func (c *Controller) Start(addr string) error {
	srv, err := rpc.NewAsyncServer(addr, c.handle)
	if err != nil {
		return err
	}
	c.srv = srv
	logger.Info("Sentinel started", "id", c.id, "addr", addr, "peers", len(c.peers))
	return nil
}

// Stop shuts the sentinel down.
func (c *Controller) Stop() {
	close(c.quit)
	if c.srv != nil {
		c.srv.Close()
	}
	c.coord.Close()
	for _, p := range c.peers {
		p.Close()
	}
}

func (c *Controller) handle(_ conn.PeerID, body []byte, respond func([]byte)) {
	req, err := DecodeRequest(body)
	if err != nil {
		logger.Warn("Dropping malformed sentinel request", "err", err)
		return
	}
	switch r := req.(type) {
	case *ExecuteRequest:
		go func() {
			resp := c.ExecuteTransaction(&r.Tx)
			if buf, err := binenc.Marshal(resp); err == nil {
				respond(buf)
			}
		}()
	case *AttestRequest:
		resp := c.attest(&r.Tx)
		if buf, err := binenc.Marshal(resp); err == nil {
			respond(buf)
		}
	}
}

// attest signs the compact transaction ID if its shape is plausible.
// Attesting does not re-run full static validation; the compact form does
// not carry enough data for it, and threshold security rests on the
// submitting sentinel's checks plus key distribution.
func (c *Controller) attest(ctx *transaction.CompactTx) *AttestResponse {
	if len(ctx.Inputs) == 0 || len(ctx.Inputs) > transaction.MaxTxInputs ||
		len(ctx.Outputs) > transaction.MaxTxOutputs {
		return &AttestResponse{}
	}
	att, err := transaction.Attest(c.priv, ctx)
	if err != nil {
		logger.Error("Failed to attest", "tx", ctx.ID, "err", err)
		return &AttestResponse{}
	}
	return &AttestResponse{Attestation: &att}
}

// ExecuteTransaction runs the full sentinel flow for one signed
// transaction: static validation, compaction, attestation gathering, and
// coordinator handoff with retry until the decision is durable.
func (c *Controller) ExecuteTransaction(tx *transaction.FullTx) *ExecuteResponse {
	if err := transaction.CheckTx(tx); err != nil {
		staticInvalidCounter.Inc(1)
		logger.Debug("Rejected transaction", "tx", hashOf(tx), "err", err)
		return &ExecuteResponse{Status: StatusStaticInvalid, Reason: err.Error()}
	}

	ctx := transaction.Compact(tx)
	logger.Debug("Accepted transaction", "tx", ctx.ID)
	acceptedCounter.Inc(1)

	if !c.gatherAttestations(ctx) {
		return &ExecuteResponse{Status: StatusPending, Reason: "insufficient attestations"}
	}

	shardTx := lockingshard.Tx{Tx: *ctx, OutputValues: outputValues(tx)}
	for {
		committed, err := c.coord.Execute(shardTx)
		if err == nil {
			if committed {
				return &ExecuteResponse{Status: StatusConfirmed}
			}
			return &ExecuteResponse{Status: StatusStateInvalid}
		}
		logger.Debug("Coordinator unreachable, retrying", "tx", ctx.ID, "err", err)
		select {
		case <-time.After(coordinatorRetryDelay):
		case <-c.quit:
			return &ExecuteResponse{Status: StatusPending, Reason: ErrStopped.Error()}
		}
	}
}

// gatherAttestations signs locally and collects peer attestations until
// the threshold is met.
func (c *Controller) gatherAttestations(ctx *transaction.CompactTx) bool {
	att, err := transaction.Attest(c.priv, ctx)
	if err != nil {
		logger.Error("Failed to sign transaction", "tx", ctx.ID, "err", err)
		return false
	}
	ctx.Attestations = append(ctx.Attestations, att)

	for _, peer := range c.peers {
		if len(ctx.Attestations) >= c.threshold {
			break
		}
		peerAtt, err := peer.Attest(ctx)
		if err != nil || peerAtt == nil {
			logger.Warn("Peer attestation failed", "tx", ctx.ID, "err", err)
			continue
		}
		ctx.Attestations = append(ctx.Attestations, *peerAtt)
	}
	return len(ctx.Attestations) >= c.threshold
}

func outputValues(tx *transaction.FullTx) []uint64 {
	vals := make([]uint64, len(tx.Outputs))
	for i, out := range tx.Outputs {
		vals[i] = out.Value
	}
	return vals
}
