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

// Package archiver persists the atomizer block stream into a durable
// key-value store and serves historical blocks to clients that fell
// behind the atomizer's bounded in-memory cache.
package archiver

import (
	"encoding/binary"

	"github.com/opencbdc/go-cbdc/atomizer"
	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/storage/database"
)

var logger = log.NewModuleLogger(log.Archiver)

var bestHeightKey = []byte("bestHeight")

// Store is a height-keyed block store with a contiguous best height: the
// highest H such that every block in [1, H] is present.
type Store struct {
	db    database.Database
	cache common.Cache
}

// NewStore wraps a database. cacheSize bounds the read cache.
func NewStore(db database.Database, cacheSize int) *Store {
	return &Store{db: db, cache: common.NewCache(cacheSize)}
}

func blockKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

// BestHeight returns the contiguous best height, 0 if empty.
func (s *Store) BestHeight() (uint64, error) {
	v, err := s.db.Get(bestHeightKey)
	if err == database.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// PutBlock stores a block and advances the contiguous best height as far
// as stored blocks allow.
func (s *Store) PutBlock(blk *atomizer.Block) error {
	buf, err := binenc.Marshal(blk)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	if err := batch.Put(blockKey(blk.Height), buf); err != nil {
		return err
	}

	best, err := s.BestHeight()
	if err != nil {
		return err
	}
	next := best
	for next+1 == blk.Height || s.hasBlock(next+1) {
		next++
	}
	if next != best {
		if err := batch.Put(bestHeightKey, blockKey(next)); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	return nil
}

func (s *Store) hasBlock(height uint64) bool {
	ok, err := s.db.Has(blockKey(height))
	return err == nil && ok
}

// GetBlock reads a block, returning nil on a miss.
func (s *Store) GetBlock(height uint64) (*atomizer.Block, error) {
	key := blockKey(height)
	if v, ok := s.cache.Get(common.BytesToHash(key)); ok {
		return v.(*atomizer.Block), nil
	}
	buf, err := s.db.Get(key)
	if err == database.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var blk atomizer.Block
	if err := binenc.Unmarshal(buf, &blk); err != nil {
		return nil, err
	}
	s.cache.Add(common.BytesToHash(key), &blk)
	return &blk, nil
}
