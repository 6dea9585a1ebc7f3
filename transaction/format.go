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

package transaction

import (
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// EncodeTo implements binenc.Encodable.
func (a *Attestation) EncodeTo(e *binenc.Encoder) {
	e.WriteRaw(a.PubKey[:])
	e.WriteRaw(a.Sig[:])
}

// DecodeFrom implements binenc.Decodable.
func (a *Attestation) DecodeFrom(d *binenc.Decoder) {
	d.ReadRaw(a.PubKey[:])
	d.ReadRaw(a.Sig[:])
}

// EncodeTo implements binenc.Encodable.
func (tx *CompactTx) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(tx.ID)
	e.WriteHashes(tx.Inputs)
	e.WriteHashes(tx.Outputs)
	e.WriteLen(len(tx.Attestations))
	for i := range tx.Attestations {
		tx.Attestations[i].EncodeTo(e)
	}
}

// DecodeFrom implements binenc.Decodable.
func (tx *CompactTx) DecodeFrom(d *binenc.Decoder) {
	tx.ID = d.ReadHash()
	tx.Inputs = d.ReadHashes()
	tx.Outputs = d.ReadHashes()
	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	if n == 0 {
		tx.Attestations = nil
		return
	}
	tx.Attestations = make([]Attestation, n)
	for i := range tx.Attestations {
		tx.Attestations[i].DecodeFrom(d)
	}
}

// EncodeTo implements binenc.Encodable.
func (p *OutPoint) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(p.TxID)
	e.WriteUint64(p.Index)
}

// DecodeFrom implements binenc.Decodable.
func (p *OutPoint) DecodeFrom(d *binenc.Decoder) {
	p.TxID = d.ReadHash()
	p.Index = d.ReadUint64()
}

// EncodeTo implements binenc.Encodable.
func (o *Output) EncodeTo(e *binenc.Encoder) {
	e.WriteHash(o.WitnessProgramCommitment)
	e.WriteUint64(o.Value)
}

// DecodeFrom implements binenc.Decodable.
func (o *Output) DecodeFrom(d *binenc.Decoder) {
	o.WitnessProgramCommitment = d.ReadHash()
	o.Value = d.ReadUint64()
}

// EncodeTo implements binenc.Encodable.
func (tx *FullTx) EncodeTo(e *binenc.Encoder) {
	e.WriteLen(len(tx.Inputs))
	for i := range tx.Inputs {
		tx.Inputs[i].PrevOut.EncodeTo(e)
		tx.Inputs[i].Out.EncodeTo(e)
	}
	e.WriteLen(len(tx.Outputs))
	for i := range tx.Outputs {
		tx.Outputs[i].EncodeTo(e)
	}
	e.WriteLen(len(tx.Witnesses))
	for _, w := range tx.Witnesses {
		e.WriteBytes(w)
	}
}

// DecodeFrom implements binenc.Decodable.
func (tx *FullTx) DecodeFrom(d *binenc.Decoder) {
	nin := d.ReadLen()
	if d.Err() != nil {
		return
	}
	tx.Inputs = nil
	if nin > 0 {
		tx.Inputs = make([]Input, nin)
	}
	for i := range tx.Inputs {
		tx.Inputs[i].PrevOut.DecodeFrom(d)
		tx.Inputs[i].Out.DecodeFrom(d)
	}
	nout := d.ReadLen()
	if d.Err() != nil {
		return
	}
	tx.Outputs = nil
	if nout > 0 {
		tx.Outputs = make([]Output, nout)
	}
	for i := range tx.Outputs {
		tx.Outputs[i].DecodeFrom(d)
	}
	nwit := d.ReadLen()
	if d.Err() != nil {
		return
	}
	tx.Witnesses = nil
	if nwit > 0 {
		tx.Witnesses = make([][]byte, nwit)
	}
	for i := range tx.Witnesses {
		tx.Witnesses[i] = d.ReadBytes()
	}
}
