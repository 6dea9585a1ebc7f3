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

// Package sentinel implements the attestation boundary: static validation
// of signed transactions, compaction, Schnorr attestation, and handoff to
// the 2PC coordinator.
package sentinel

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
)

// Status is the settlement status reported to a client.
type Status uint8

const (
	// StatusConfirmed: the transaction settled.
	StatusConfirmed Status = iota
	// StatusPending: the transaction was accepted but not yet decided.
	StatusPending
	// StatusStateInvalid: at least one input was locked elsewhere or
	// already spent.
	StatusStateInvalid
	// StatusStaticInvalid: the transaction failed static validation.
	StatusStaticInvalid
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusStateInvalid:
		return "state_invalid"
	case StatusStaticInvalid:
		return "static_invalid"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Request discriminants.
const (
	reqExecute uint8 = iota
	reqAttest
)

var errUnknownRequest = errors.New("unknown sentinel request")

// ExecuteRequest submits a signed transaction for settlement.
type ExecuteRequest struct {
	Tx transaction.FullTx
}

// EncodeTo implements binenc.Encodable.
func (r *ExecuteRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(reqExecute)
	r.Tx.EncodeTo(e)
}

// AttestRequest asks a peer sentinel to attest to a compact transaction.
// The peer checks the input and output counts of the compact form and
// signs its ID as given; the ID is not recomputed.
type AttestRequest struct {
	Tx transaction.CompactTx
}

// EncodeTo implements binenc.Encodable.
func (r *AttestRequest) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(reqAttest)
	r.Tx.EncodeTo(e)
}

// DecodeRequest decodes a sentinel request envelope.
func DecodeRequest(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, errUnknownRequest
	}
	d := binenc.NewDecoder(bytes.NewReader(b[1:]))
	switch b[0] {
	case reqExecute:
		r := &ExecuteRequest{}
		r.Tx.DecodeFrom(d)
		if err := d.Err(); err != nil {
			return nil, err
		}
		return r, nil
	case reqAttest:
		r := &AttestRequest{}
		r.Tx.DecodeFrom(d)
		if err := d.Err(); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", errUnknownRequest, b[0])
	}
}

// ExecuteResponse reports the settlement status and, for static failures,
// the validation error.
type ExecuteResponse struct {
	Status Status
	Reason string
}

// EncodeTo implements binenc.Encodable.
func (r *ExecuteResponse) EncodeTo(e *binenc.Encoder) {
	e.WriteUint8(uint8(r.Status))
	e.WriteOption(r.Reason != "")
	if r.Reason != "" {
		e.WriteBytes([]byte(r.Reason))
	}
}

// DecodeFrom implements binenc.Decodable.
func (r *ExecuteResponse) DecodeFrom(d *binenc.Decoder) {
	r.Status = Status(d.ReadUint8())
	if d.ReadOption() {
		r.Reason = string(d.ReadBytes())
	} else {
		r.Reason = ""
	}
}

// AttestResponse carries a peer sentinel's attestation, or nothing if the
// peer declined.
type AttestResponse struct {
	Attestation *transaction.Attestation
}

// EncodeTo implements binenc.Encodable.
func (r *AttestResponse) EncodeTo(e *binenc.Encoder) {
	e.WriteOption(r.Attestation != nil)
	if r.Attestation != nil {
		r.Attestation.EncodeTo(e)
	}
}

// DecodeFrom implements binenc.Decodable.
func (r *AttestResponse) DecodeFrom(d *binenc.Decoder) {
	if d.ReadOption() {
		var att transaction.Attestation
		att.DecodeFrom(d)
		r.Attestation = &att
	} else {
		r.Attestation = nil
	}
}

// hashOf is a tiny helper for log context.
func hashOf(tx *transaction.FullTx) common.Hash {
	return transaction.TxID(tx)
}
