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

package binenc

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/opencbdc/go-cbdc/common"
)

// MaxSequenceLen bounds decoded sequence lengths so a corrupt or hostile
// length prefix cannot trigger an unbounded allocation.
const MaxSequenceLen = 1 << 24

var (
	// ErrSequenceTooLong is returned when a decoded length prefix exceeds
	// MaxSequenceLen.
	ErrSequenceTooLong = errors.New("sequence length exceeds limit")
	// ErrTrailingBytes is returned by Unmarshal when input remains after a
	// complete decode.
	ErrTrailingBytes = errors.New("trailing bytes after decode")
)

// Decodable is implemented by types that deserialize themselves from a
// Decoder.
type Decodable interface {
	DecodeFrom(d *Decoder)
}

// Decoder reads primitive values from an underlying stream. The first read
// error is sticky; subsequent reads return zero values and Err reports it.
type Decoder struct {
	r   io.Reader
	err error
	buf [8]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Err returns the first error encountered while decoding, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) read(b []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return false
	}
	return true
}

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() uint8 {
	if !d.read(d.buf[:1]) {
		return 0
	}
	return d.buf[0]
}

// ReadUint32 reads a little-endian u32.
func (d *Decoder) ReadUint32() uint32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(d.buf[:4])
}

// ReadUint64 reads a little-endian u64.
func (d *Decoder) ReadUint64() uint64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

// ReadBool reads a 0/1 byte.
func (d *Decoder) ReadBool() bool {
	return d.ReadUint8() != 0
}

// ReadLen reads a u64 sequence length and bounds-checks it.
func (d *Decoder) ReadLen() int {
	n := d.ReadUint64()
	if d.err == nil && n > MaxSequenceLen {
		d.err = ErrSequenceTooLong
		return 0
	}
	return int(n)
}

// ReadRaw fills b from the stream with no length prefix.
func (d *Decoder) ReadRaw(b []byte) {
	d.read(b)
}

// ReadHash reads 32 raw bytes.
func (d *Decoder) ReadHash() common.Hash {
	var h common.Hash
	d.read(h[:])
	return h
}

// ReadHashes reads a length-prefixed sequence of hashes. An empty
// sequence decodes as nil so round trips preserve slice equality.
func (d *Decoder) ReadHashes() []common.Hash {
	n := d.ReadLen()
	if d.err != nil || n == 0 {
		return nil
	}
	hs := make([]common.Hash, n)
	for i := range hs {
		hs[i] = d.ReadHash()
	}
	return hs
}

// ReadBytes reads a length-prefixed byte slice. Empty decodes as nil.
func (d *Decoder) ReadBytes() []byte {
	n := d.ReadLen()
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	d.read(b)
	return b
}

// ReadBools reads a length-prefixed sequence of bools. Empty decodes as
// nil.
func (d *Decoder) ReadBools() []bool {
	n := d.ReadLen()
	if d.err != nil || n == 0 {
		return nil
	}
	vs := make([]bool, n)
	for i := range vs {
		vs[i] = d.ReadBool()
	}
	return vs
}

// ReadOption reads a u8 presence tag. The caller reads the body iff the
// result is true.
func (d *Decoder) ReadOption() bool {
	return d.ReadBool()
}

// Decode deserializes v from the stream.
func (d *Decoder) Decode(v Decodable) {
	v.DecodeFrom(d)
}
