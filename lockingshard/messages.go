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
	"bytes"
	"errors"
	"fmt"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// Request parameter discriminants. The same envelope serves the client
// RPC surface and the replicated command log.
const (
	paramsLock uint8 = iota
	paramsApply
	paramsDiscard
)

// Status request discriminants for the read-only endpoint.
const (
	statusUHS uint8 = iota
	statusTx
)

var errUnknownRequest = errors.New("unknown locking shard request")

// LockRequest asks the shard to lock the owned inputs of a dtx batch.
type LockRequest struct {
	DtxID common.Hash
	Txs   []Tx
}

// EncodeTo implements binenc.Encodable.
func (r *LockRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(r.DtxID)
	e.WriteUint8(paramsLock)
	e.WriteLen(len(r.Txs))
	for i := range r.Txs {
		r.Txs[i].EncodeTo(e)
	}
}

// ApplyRequest finalizes a prepared dtx with per-tx commit flags.
type ApplyRequest struct {
	DtxID       common.Hash
	CommitFlags []bool
}

// EncodeTo implements binenc.Encodable.
func (r *ApplyRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(r.DtxID)
	e.WriteUint8(paramsApply)
	e.WriteBools(r.CommitFlags)
}

// DiscardRequest forgets an applied dtx.
type DiscardRequest struct {
	DtxID common.Hash
}

// EncodeTo implements binenc.Encodable.
func (r *DiscardRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(r.DtxID)
	e.WriteUint8(paramsDiscard)
}

// DecodeRequest decodes a request envelope into one of the structs above.
func DecodeRequest(b []byte) (interface{}, error) {
	d := binenc.NewDecoder(bytes.NewReader(b))
	dtxID := d.ReadHash()
	tag := d.ReadUint8()
	if err := d.Err(); err != nil {
		return nil, err
	}
	switch tag {
	case paramsLock:
		req := &LockRequest{DtxID: dtxID}
		n := d.ReadLen()
		if d.Err() == nil {
			req.Txs = make([]Tx, n)
			for i := range req.Txs {
				req.Txs[i].DecodeFrom(d)
			}
		}
		if err := d.Err(); err != nil {
			return nil, err
		}
		return req, nil
	case paramsApply:
		req := &ApplyRequest{DtxID: dtxID}
		req.CommitFlags = d.ReadBools()
		if err := d.Err(); err != nil {
			return nil, err
		}
		return req, nil
	case paramsDiscard:
		return &DiscardRequest{DtxID: dtxID}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", errUnknownRequest, tag)
	}
}

// LockResponse carries the per-transaction lock results.
type LockResponse struct {
	OK []bool
}

// EncodeTo implements binenc.Encodable.
func (r *LockResponse) EncodeTo(e *binenc.Encoder) {
	e.WriteBools(r.OK)
}

// DecodeFrom implements binenc.Decodable.
func (r *LockResponse) DecodeFrom(d *binenc.Decoder) {
	r.OK = d.ReadBools()
}

// UHSStatusRequest queries whether a UHS ID is unspent or locked.
type UHSStatusRequest struct {
	UHSID common.Hash
}

// EncodeTo implements binenc.Encodable.
func (r *UHSStatusRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(statusUHS)
	e.WriteHash(r.UHSID)
}

// TxStatusRequest queries whether a transaction ID was recently confirmed.
type TxStatusRequest struct {
	TxID common.Hash
}

// EncodeTo implements binenc.Encodable.
func (r *TxStatusRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(statusTx)
	e.WriteHash(r.TxID)
}

// DecodeStatusRequest decodes a read-only status query.
func DecodeStatusRequest(b []byte) (interface{}, error) {
	d := binenc.NewDecoder(bytes.NewReader(b))
	tag := d.ReadUint8()
	h := d.ReadHash()
	if err := d.Err(); err != nil {
		return nil, err
	}
	switch tag {
	case statusUHS:
		return &UHSStatusRequest{UHSID: h}, nil
	case statusTx:
		return &TxStatusRequest{TxID: h}, nil
	default:
		return nil, fmt.Errorf("%w: status tag %d", errUnknownRequest, tag)
	}
}
