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
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
)

// Block is an ordered batch of compact transactions sealed at a height.
// Ordering within a block follows the log order in which attestation sets
// first reached completeness.
type Block struct {
	Height       uint64
	Transactions []transaction.CompactTx
}

// EncodeTo implements binenc.Encodable.
func (b *Block) EncodeTo(e *binenc.Encoder) {
	e.WriteUint64(b.Height)
	e.WriteLen(len(b.Transactions))
	for i := range b.Transactions {
		b.Transactions[i].EncodeTo(e)
	}
}

// DecodeFrom implements binenc.Decodable.
func (b *Block) DecodeFrom(d *binenc.Decoder) {
	b.Height = d.ReadUint64()
	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	b.Transactions = nil
	if n > 0 {
		b.Transactions = make([]transaction.CompactTx, n)
	}
	for i := range b.Transactions {
		b.Transactions[i].DecodeFrom(d)
	}
}
