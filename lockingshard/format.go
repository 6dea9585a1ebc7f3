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
	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// EncodeTo implements binenc.Encodable.
func (e *UHSElement) EncodeTo(enc *binenc.Encoder) {
	enc.WriteUint64(e.Value)
	enc.WriteUint64(e.CreationEpoch)
	enc.WriteOption(e.DeletionEpoch != nil)
	if e.DeletionEpoch != nil {
		enc.WriteUint64(*e.DeletionEpoch)
	}
}

// DecodeFrom implements binenc.Decodable.
func (e *UHSElement) DecodeFrom(d *binenc.Decoder) {
	e.Value = d.ReadUint64()
	e.CreationEpoch = d.ReadUint64()
	if d.ReadOption() {
		epoch := d.ReadUint64()
		e.DeletionEpoch = &epoch
	} else {
		e.DeletionEpoch = nil
	}
}

// EncodeTo implements binenc.Encodable.
func (t *Tx) EncodeTo(e *binenc.Encoder) {
	t.Tx.EncodeTo(e)
	e.WriteLen(len(t.OutputValues))
	for _, v := range t.OutputValues {
		e.WriteUint64(v)
	}
	e.WriteUint64(t.Epoch)
}

// DecodeFrom implements binenc.Decodable.
func (t *Tx) DecodeFrom(d *binenc.Decoder) {
	t.Tx.DecodeFrom(d)
	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	t.OutputValues = nil
	if n > 0 {
		t.OutputValues = make([]uint64, n)
	}
	for i := range t.OutputValues {
		t.OutputValues[i] = d.ReadUint64()
	}
	t.Epoch = d.ReadUint64()
}

func encodeElementMap(e *binenc.Encoder, m map[common.Hash]UHSElement) {
	e.WriteLen(len(m))
	for id, elem := range m {
		e.WriteHash(id)
		elem.EncodeTo(e)
	}
}

func decodeElementMap(d *binenc.Decoder) map[common.Hash]UHSElement {
	n := d.ReadLen()
	if d.Err() != nil {
		return nil
	}
	m := make(map[common.Hash]UHSElement, n)
	for i := 0; i < n; i++ {
		id := d.ReadHash()
		var elem UHSElement
		elem.DecodeFrom(d)
		m[id] = elem
	}
	return m
}

// EncodeTo serializes the full shard state for snapshotting. Callers must
// hold at least the read lock.
func (s *LockingShard) EncodeTo(e *binenc.Encoder) {
	encodeElementMap(e, s.unspent)
	encodeElementMap(e, s.locked)
	encodeElementMap(e, s.spent)

	e.WriteLen(len(s.prepared))
	for dtxID, p := range s.prepared {
		e.WriteHash(dtxID)
		e.WriteLen(len(p.txs))
		for i := range p.txs {
			p.txs[i].EncodeTo(e)
		}
		e.WriteBools(p.results)
	}

	e.WriteLen(len(s.applied))
	for dtxID := range s.applied {
		e.WriteHash(dtxID)
	}

	e.WriteUint64(s.highestEpoch)
}

// DecodeFrom restores the full shard state from a snapshot. Callers must
// hold the write lock. The completed-tx cache is not part of the snapshot;
// it is a best-effort status surface.
func (s *LockingShard) DecodeFrom(d *binenc.Decoder) {
	s.unspent = decodeElementMap(d)
	s.locked = decodeElementMap(d)
	s.spent = decodeElementMap(d)

	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	s.prepared = make(map[common.Hash]*preparedDtx, n)
	for i := 0; i < n; i++ {
		dtxID := d.ReadHash()
		m := d.ReadLen()
		if d.Err() != nil {
			return
		}
		p := &preparedDtx{txs: make([]Tx, m)}
		for j := range p.txs {
			p.txs[j].DecodeFrom(d)
		}
		p.results = d.ReadBools()
		s.prepared[dtxID] = p
	}

	n = d.ReadLen()
	if d.Err() != nil {
		return
	}
	s.applied = make(map[common.Hash]struct{}, n)
	for i := 0; i < n; i++ {
		s.applied[d.ReadHash()] = struct{}{}
	}

	s.highestEpoch = d.ReadUint64()
}
