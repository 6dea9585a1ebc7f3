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
	lru "github.com/hashicorp/golang-lru"
)

// Cache is a bounded hash-keyed cache. Once the size limit is reached the
// least recently used entry is evicted; Get and Add refresh an entry,
// Contains does not. It is safe for concurrent use.
type Cache interface {
	Add(key Hash, value interface{}) (evicted bool)
	Get(key Hash) (value interface{}, ok bool)
	Contains(key Hash) bool
	Len() int
	Purge()
}

type lruCache struct {
	lru *lru.Cache
}

// NewCache returns a Cache holding at most size entries. A non-positive
// size defaults to a single entry.
func NewCache(size int) Cache {
	if size < 1 {
		size = 1
	}
	c, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &lruCache{lru: c}
}

func (c *lruCache) Add(key Hash, value interface{}) (evicted bool) {
	return c.lru.Add(key, value)
}

func (c *lruCache) Get(key Hash) (value interface{}, ok bool) {
	return c.lru.Get(key)
}

func (c *lruCache) Contains(key Hash) bool {
	return c.lru.Contains(key)
}

func (c *lruCache) Len() int {
	return c.lru.Len()
}

func (c *lruCache) Purge() {
	c.lru.Purge()
}

// HashSet is a bounded set of hashes with insertion-order eviction,
// implemented over Cache. Used for the completed-transaction cache.
type HashSet struct {
	cache Cache
}

// NewHashSet returns a HashSet holding at most size hashes.
func NewHashSet(size int) *HashSet {
	return &HashSet{cache: NewCache(size)}
}

// Add inserts the hash, evicting the oldest entry if the set is full.
func (s *HashSet) Add(h Hash) {
	s.cache.Add(h, struct{}{})
}

// Contains reports whether the hash is still in the set.
func (s *HashSet) Contains(h Hash) bool {
	return s.cache.Contains(h)
}

// Len returns the number of hashes currently held.
func (s *HashSet) Len() int {
	return s.cache.Len()
}
