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

package database

import (
	"sync"
)

type memDB struct {
	mu sync.RWMutex
	kv map[string][]byte
}

// NewMemDB returns an in-memory Database for tests and tooling.
func NewMemDB() Database {
	return &memDB{kv: make(map[string][]byte)}
}

func (db *memDB) Type() DBType { return MemoryDB }

func (db *memDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.kv[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *memDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.kv[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (db *memDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.kv[string(key)]
	return ok, nil
}

func (db *memDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.kv, string(key))
	return nil
}

func (db *memDB) Close() {}

func (db *memDB) NewBatch() Batch {
	return &memBatch{db: db}
}

type memBatch struct {
	db     *memDB
	writes []struct {
		key   string
		value []byte
	}
	size int
}

func (b *memBatch) Put(key, value []byte) error {
	b.writes = append(b.writes, struct {
		key   string
		value []byte
	}{string(key), append([]byte(nil), value...)})
	b.size += len(value)
	return nil
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, w := range b.writes {
		b.db.kv[w.key] = w.value
	}
	return nil
}

func (b *memBatch) Reset() {
	b.writes = nil
	b.size = 0
}

func (b *memBatch) ValueSize() int {
	return b.size
}
