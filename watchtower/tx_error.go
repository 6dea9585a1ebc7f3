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

// Package watchtower defines the transaction error reports emitted by the
// atomizer and an error cache clients can query to learn why a
// transaction did not settle.
package watchtower

import (
	"fmt"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// ErrorCode discriminates transaction error reports.
type ErrorCode uint8

const (
	// ErrCodeIncomplete marks a transaction evicted before its attestation
	// set reached completeness.
	ErrCodeIncomplete ErrorCode = iota
	// ErrCodeStxoRange marks an attestation older than the spent-cache
	// window.
	ErrCodeStxoRange
	// ErrCodeInputsSpent marks a transaction with inputs found in the
	// spent cache.
	ErrCodeInputsSpent
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeIncomplete:
		return "incomplete"
	case ErrCodeStxoRange:
		return "stxo_range"
	case ErrCodeInputsSpent:
		return "inputs_spent"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// TxError reports why a transaction failed to settle. SpentInputs is
// populated only for ErrCodeInputsSpent.
type TxError struct {
	TxID        common.Hash
	Code        ErrorCode
	SpentInputs []common.Hash
}

func (e *TxError) Error() string {
	return fmt.Sprintf("tx %s: %s", e.TxID, e.Code)
}

// EncodeTo implements binenc.Encodable.
func (e *TxError) EncodeTo(enc *binenc.Encoder) {
	enc.WriteHash(e.TxID)
	enc.WriteUint8(uint8(e.Code))
	enc.WriteHashes(e.SpentInputs)
}

// DecodeFrom implements binenc.Decodable.
func (e *TxError) DecodeFrom(d *binenc.Decoder) {
	e.TxID = d.ReadHash()
	e.Code = ErrorCode(d.ReadUint8())
	e.SpentInputs = d.ReadHashes()
}

// TxErrors is the broadcast form: a length-prefixed sequence of reports.
type TxErrors []TxError

// EncodeTo implements binenc.Encodable.
func (es TxErrors) EncodeTo(enc *binenc.Encoder) {
	enc.WriteLen(len(es))
	for i := range es {
		es[i].EncodeTo(enc)
	}
}

// DecodeFrom implements binenc.Decodable.
func (es *TxErrors) DecodeFrom(d *binenc.Decoder) {
	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	if n == 0 {
		*es = nil
		return
	}
	out := make(TxErrors, n)
	for i := range out {
		out[i].DecodeFrom(d)
	}
	*es = out
}
