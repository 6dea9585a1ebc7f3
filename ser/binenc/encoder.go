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

// Package binenc implements the wire codec shared by every message and
// snapshot format: fixed-width little-endian integers, u64 length-prefixed
// sequences, u8 presence-tagged options and u8-discriminated unions.
// Encoders and decoders work over arbitrary streams; Marshal and Unmarshal
// are the buffer-backed variants.
package binenc

import (
	"encoding/binary"
	"io"

	"github.com/opencbdc/go-cbdc/common"
)

// Encodable is implemented by types that serialize themselves to an Encoder.
type Encodable interface {
	EncodeTo(e *Encoder)
}

// Encoder writes primitive values to an underlying stream. The first write
// error is sticky; subsequent writes are no-ops and Err returns it.
type Encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered while encoding, if any.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

// WriteRaw writes b with no length prefix.
func (e *Encoder) WriteRaw(b []byte) {
	e.write(b)
}

// WriteUint8 writes a single byte.
func (e *Encoder) WriteUint8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

// WriteUint32 writes a little-endian u32.
func (e *Encoder) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

// WriteUint64 writes a little-endian u64.
func (e *Encoder) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

// WriteBool writes a bool as a single 0/1 byte.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteUint8(1)
	} else {
		e.WriteUint8(0)
	}
}

// WriteLen writes a sequence length as a u64.
func (e *Encoder) WriteLen(n int) {
	e.WriteUint64(uint64(n))
}

// WriteHash writes the 32 raw bytes of h.
func (e *Encoder) WriteHash(h common.Hash) {
	e.write(h[:])
}

// WriteHashes writes a length-prefixed sequence of hashes.
func (e *Encoder) WriteHashes(hs []common.Hash) {
	e.WriteLen(len(hs))
	for _, h := range hs {
		e.WriteHash(h)
	}
}

// WriteBytes writes a length-prefixed byte slice.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteLen(len(b))
	e.write(b)
}

// WriteBools writes a length-prefixed sequence of bools.
func (e *Encoder) WriteBools(vs []bool) {
	e.WriteLen(len(vs))
	for _, v := range vs {
		e.WriteBool(v)
	}
}

// WriteOption writes a u8 presence tag. The caller writes the body iff
// present is true.
func (e *Encoder) WriteOption(present bool) {
	e.WriteBool(present)
}

// Encode serializes v into the stream.
func (e *Encoder) Encode(v Encodable) {
	v.EncodeTo(e)
}
