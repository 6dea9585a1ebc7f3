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

import "bytes"

// Marshal serializes v into a fresh buffer.
func Marshal(v Encodable) ([]byte, error) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	v.EncodeTo(e)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes v from b, requiring the full input to be consumed.
func Unmarshal(b []byte, v Decodable) error {
	r := bytes.NewReader(b)
	d := NewDecoder(r)
	v.DecodeFrom(d)
	if err := d.Err(); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingBytes
	}
	return nil
}
