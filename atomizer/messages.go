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
	"bytes"
	"errors"
	"fmt"

	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
	"github.com/opencbdc/go-cbdc/watchtower"
)

// Replicated command codes. Every state machine entry is a u8 code
// followed by the command body.
const (
	cmdAggregateTxNotify uint8 = iota
	cmdMakeBlock
	cmdGetBlock
	cmdPrune
)

// Client protocol discriminants, spec'd over the atomizer client network.
const (
	MsgTxNotify uint8 = iota
	MsgPrune
	MsgGetBlock
	MsgBlock
	MsgGetBlockResponse
)

var errUnknownCommand = errors.New("unknown atomizer command")

func newBodyDecoder(body []byte) *binenc.Decoder {
	return binenc.NewDecoder(bytes.NewReader(body))
}

// AggregateTxNotification pairs a fully attested transaction with the
// height of its oldest attestation.
type AggregateTxNotification struct {
	Tx                transaction.CompactTx
	OldestAttestation uint64
}

// EncodeTo implements binenc.Encodable.
func (n *AggregateTxNotification) EncodeTo(e *binenc.Encoder) {
	n.Tx.EncodeTo(e)
	e.WriteUint64(n.OldestAttestation)
}

// DecodeFrom implements binenc.Decodable.
func (n *AggregateTxNotification) DecodeFrom(d *binenc.Decoder) {
	n.Tx.DecodeFrom(d)
	n.OldestAttestation = d.ReadUint64()
}

// AggregateTxNotifyRequest replicates a batch of completed aggregates.
type AggregateTxNotifyRequest struct {
	Aggregates []AggregateTxNotification
}

// EncodeTo implements binenc.Encodable.
func (r *AggregateTxNotifyRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdAggregateTxNotify)
	e.WriteLen(len(r.Aggregates))
	for i := range r.Aggregates {
		r.Aggregates[i].EncodeTo(e)
	}
}

// MakeBlockRequest seals the pending transaction set into the next block.
type MakeBlockRequest struct{}

// EncodeTo implements binenc.Encodable.
func (r *MakeBlockRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdMakeBlock)
}

// GetBlockRequest reads a block from the replicated block cache.
type GetBlockRequest struct {
	Height uint64
}

// EncodeTo implements binenc.Encodable.
func (r *GetBlockRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdGetBlock)
	e.WriteUint64(r.Height)
}

// PruneRequest drops block cache entries below the given height.
type PruneRequest struct {
	Height uint64
}

// EncodeTo implements binenc.Encodable.
func (r *PruneRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdPrune)
	e.WriteUint64(r.Height)
}

// decodeCommand decodes a replicated log entry into one of the command
// structs above.
func decodeCommand(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, errUnknownCommand
	}
	body := b[1:]
	switch b[0] {
	case cmdAggregateTxNotify:
		var req AggregateTxNotifyRequest
		d := newBodyDecoder(body)
		n := d.ReadLen()
		if d.Err() == nil {
			req.Aggregates = make([]AggregateTxNotification, n)
			for i := range req.Aggregates {
				req.Aggregates[i].DecodeFrom(d)
			}
		}
		if err := d.Err(); err != nil {
			return nil, err
		}
		return &req, nil
	case cmdMakeBlock:
		return &MakeBlockRequest{}, nil
	case cmdGetBlock:
		var req GetBlockRequest
		d := newBodyDecoder(body)
		req.Height = d.ReadUint64()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return &req, nil
	case cmdPrune:
		var req PruneRequest
		d := newBodyDecoder(body)
		req.Height = d.ReadUint64()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return &req, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", errUnknownCommand, b[0])
	}
}

// MakeBlockResponse is the state machine result of a make_block command,
// broadcast to every client.
type MakeBlockResponse struct {
	Block  Block
	Errors watchtower.TxErrors
}

// EncodeTo implements binenc.Encodable.
func (r *MakeBlockResponse) EncodeTo(e *binenc.Encoder) {
	r.Block.EncodeTo(e)
	r.Errors.EncodeTo(e)
}

// DecodeFrom implements binenc.Decodable.
func (r *MakeBlockResponse) DecodeFrom(d *binenc.Decoder) {
	r.Block.DecodeFrom(d)
	r.Errors.DecodeFrom(d)
}

// TxNotifyRequest is the client-network notification a shard sends for
// each transaction it attests: the attested input indices and the block
// height as of which they were unspent.
type TxNotifyRequest struct {
	Tx           transaction.CompactTx
	InputIndices []uint64
	BlockHeight  uint64
}

// EncodeTo implements binenc.Encodable.
func (r *TxNotifyRequest) EncodeTo(e *binenc.Encoder) {
	r.Tx.EncodeTo(e)
	e.WriteLen(len(r.InputIndices))
	for _, idx := range r.InputIndices {
		e.WriteUint64(idx)
	}
	e.WriteUint64(r.BlockHeight)
}

// DecodeFrom implements binenc.Decodable.
func (r *TxNotifyRequest) DecodeFrom(d *binenc.Decoder) {
	r.Tx.DecodeFrom(d)
	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	r.InputIndices = nil
	if n > 0 {
		r.InputIndices = make([]uint64, n)
	}
	for i := range r.InputIndices {
		r.InputIndices[i] = d.ReadUint64()
	}
	r.BlockHeight = d.ReadUint64()
}
