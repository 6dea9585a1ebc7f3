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

import "fmt"

// Range is an inclusive [Lo, Hi] interval over the first byte of a Hash.
// A shard owns a hash iff Lo <= hash[0] <= Hi. A set of ranges partitions
// the 256-value prefix space without overlap.
type Range struct {
	Lo uint8
	Hi uint8
}

// Contains reports whether the range owns the given hash.
func (r Range) Contains(h Hash) bool {
	return r.Lo <= h[0] && h[0] <= r.Hi
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Lo, r.Hi)
}

// ValidRangePartition reports whether the given ranges exactly cover the
// 0..255 prefix space with no gaps or overlaps. Ranges need not be sorted.
func ValidRangePartition(ranges []Range) bool {
	var covered [256]bool
	for _, r := range ranges {
		if r.Lo > r.Hi {
			return false
		}
		for v := int(r.Lo); v <= int(r.Hi); v++ {
			if covered[v] {
				return false
			}
			covered[v] = true
		}
	}
	for _, c := range covered {
		if !c {
			return false
		}
	}
	return true
}
