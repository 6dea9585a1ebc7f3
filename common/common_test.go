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

package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToHash(t *testing.T) {
	short := []byte{0xde, 0xad}
	h := BytesToHash(short)
	assert.Equal(t, byte(0xde), h[30])
	assert.Equal(t, byte(0xad), h[31])
	assert.Equal(t, byte(0), h[0])

	long := make([]byte, 40)
	long[8] = 0x01
	h = BytesToHash(long)
	assert.Equal(t, byte(0x01), h[0])
}

func TestHexToHash(t *testing.T) {
	h := RandomHash()
	parsed, err := HexToHash(h.Hex())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)

	parsed, err = HexToHash("0x" + h.Hex())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = HexToHash("abcd")
	assert.Error(t, err)
}

func TestHashCmp(t *testing.T) {
	var a, b Hash
	b[31] = 1
	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Cmp(a))
	assert.Equal(t, 0, a.Cmp(a))
}

func TestRangeContains(t *testing.T) {
	r := Range{Lo: 0x10, Hi: 0x20}
	mk := func(prefix byte) Hash {
		var h Hash
		h[0] = prefix
		return h
	}
	assert.True(t, r.Contains(mk(0x10)))
	assert.True(t, r.Contains(mk(0x20)))
	assert.True(t, r.Contains(mk(0x18)))
	assert.False(t, r.Contains(mk(0x0f)))
	assert.False(t, r.Contains(mk(0x21)))
}

func TestValidRangePartition(t *testing.T) {
	tests := []struct {
		ranges []Range
		valid  bool
	}{
		{[]Range{{0, 255}}, true},
		{[]Range{{0, 127}, {128, 255}}, true},
		{[]Range{{128, 255}, {0, 127}}, true},
		{[]Range{{0, 127}, {129, 255}}, false}, // gap at 128
		{[]Range{{0, 128}, {128, 255}}, false}, // overlap at 128
		{[]Range{{0, 127}}, false},             // incomplete
		{[]Range{{10, 5}, {0, 255}}, false},    // inverted
	}
	for i, tc := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidRangePartition(tc.ranges))
		})
	}
}

func TestHashSetEviction(t *testing.T) {
	s := NewHashSet(3)
	var hs []Hash
	for i := 0; i < 4; i++ {
		hs = append(hs, RandomHash())
	}
	for _, h := range hs[:3] {
		s.Add(h)
	}
	for _, h := range hs[:3] {
		assert.True(t, s.Contains(h))
	}
	// The fourth insert evicts the oldest entry only.
	s.Add(hs[3])
	assert.False(t, s.Contains(hs[0]))
	assert.True(t, s.Contains(hs[1]))
	assert.True(t, s.Contains(hs[2]))
	assert.True(t, s.Contains(hs[3]))
	assert.Equal(t, 3, s.Len())
}
