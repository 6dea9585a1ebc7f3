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
	"bytes"
	"errors"
	"fmt"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

const (
	cmdPrepare uint8 = iota
	cmdCommit
	cmdDiscard
	cmdDone
)

var (
	errUnknownCommand = errors.New("unknown coordinator command")
	errUnknownDtx     = errors.New("dtx not found in coordinator state")
)

// PrepareCommand moves a dtx from absent into the prepare phase.
type PrepareCommand struct {
	DtxID common.Hash
	Txs   []lockingshard.Tx
}

// EncodeTo implements binenc.Encodable.
func (c *PrepareCommand) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdPrepare)
	e.WriteHash(c.DtxID)
	encodeTxs(e, c.Txs)
}

// CommitCommand moves a dtx from prepare into the commit phase.
type CommitCommand struct {
	DtxID       common.Hash
	CommitFlags []bool
	ShardStates []ShardState
}

// EncodeTo implements binenc.Encodable.
func (c *CommitCommand) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdCommit)
	e.WriteHash(c.DtxID)
	e.WriteBools(c.CommitFlags)
	encodeShardStates(e, c.ShardStates)
}

// DiscardCommand moves a dtx from commit into the discard phase.
type DiscardCommand struct {
	DtxID common.Hash
}

// EncodeTo implements binenc.Encodable.
func (c *DiscardCommand) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdDiscard)
	e.WriteHash(c.DtxID)
}

// DoneCommand forgets a fully discarded dtx once every shard has been
// told to discard it.
type DoneCommand struct {
	DtxID common.Hash
}

// EncodeTo implements binenc.Encodable.
func (c *DoneCommand) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(cmdDone)
	e.WriteHash(c.DtxID)
}

func encodeTxs(e *binenc.Encoder, txs []lockingshard.Tx) {
	e.WriteLen(len(txs))
	for i := range txs {
		txs[i].EncodeTo(e)
	}
}

func decodeTxs(d *binenc.Decoder) []lockingshard.Tx {
	n := d.ReadLen()
	if d.Err() != nil || n == 0 {
		return nil
	}
	txs := make([]lockingshard.Tx, n)
	for i := range txs {
		txs[i].DecodeFrom(d)
	}
	return txs
}

func encodeShardStates(e *binenc.Encoder, states []ShardState) {
	e.WriteLen(len(states))
	for i := range states {
		e.WriteUint64(states[i].Shard)
		e.WriteBools(states[i].OK)
	}
}

func decodeShardStates(d *binenc.Decoder) []ShardState {
	n := d.ReadLen()
	if d.Err() != nil || n == 0 {
		return nil
	}
	states := make([]ShardState, n)
	for i := range states {
		states[i].Shard = d.ReadUint64()
		states[i].OK = d.ReadBools()
	}
	return states
}

// DecodeCommand decodes a replicated log entry.
func DecodeCommand(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, errUnknownCommand
	}
	d := binenc.NewDecoder(bytes.NewReader(b[1:]))
	switch b[0] {
	case cmdPrepare:
		c := &PrepareCommand{}
		c.DtxID = d.ReadHash()
		c.Txs = decodeTxs(d)
		if err := d.Err(); err != nil {
			return nil, err
		}
		return c, nil
	case cmdCommit:
		c := &CommitCommand{}
		c.DtxID = d.ReadHash()
		c.CommitFlags = d.ReadBools()
		c.ShardStates = decodeShardStates(d)
		if err := d.Err(); err != nil {
			return nil, err
		}
		return c, nil
	case cmdDiscard:
		c := &DiscardCommand{}
		c.DtxID = d.ReadHash()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return c, nil
	case cmdDone:
		c := &DoneCommand{}
		c.DtxID = d.ReadHash()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", errUnknownCommand, b[0])
	}
}

// ExecuteRequest is the sentinel-facing RPC: a compact transaction with
// its auxiliary output values.
type ExecuteRequest struct {
	Tx lockingshard.Tx
}

// EncodeTo implements binenc.Encodable.
func (r *ExecuteRequest) EncodeTo(e *binenc.Encoder) {
	r.Tx.EncodeTo(e)
}

// DecodeFrom implements binenc.Decodable.
func (r *ExecuteRequest) DecodeFrom(d *binenc.Decoder) {
	r.Tx.DecodeFrom(d)
}

// ExecuteResponse reports whether the transaction committed.
type ExecuteResponse struct {
	Committed bool
}

// EncodeTo implements binenc.Encodable.
func (r *ExecuteResponse) EncodeTo(e *binenc.Encoder) {
	e.WriteBool(r.Committed)
}

// DecodeFrom implements binenc.Decodable.
func (r *ExecuteResponse) DecodeFrom(d *binenc.Decoder) {
	r.Committed = d.ReadBool()
}
