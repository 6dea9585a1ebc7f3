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

// Package database provides the key-value storage backends used by the
// archiver and other durable stores: LevelDB, Badger and an in-memory
// map for tests.
package database

import (
	"errors"
	"fmt"

	"github.com/opencbdc/go-cbdc/log"
)

var logger = log.NewModuleLogger(log.StorageDatabase)

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// DBType selects a storage backend.
type DBType string

const (
	// LevelDB selects the goleveldb backend.
	LevelDB DBType = "leveldb"
	// BadgerDB selects the badger backend.
	BadgerDB DBType = "badger"
	// MemoryDB selects the in-memory backend.
	MemoryDB DBType = "memory"
)

// Database is a keyed byte store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	NewBatch() Batch
	Close()
	Type() DBType
}

// Batch accumulates writes for a single atomic commit.
type Batch interface {
	Put(key []byte, value []byte) error
	Write() error
	Reset()
	ValueSize() int
}

// New opens a database of the given type at dir. MemoryDB ignores dir.
func New(dbType DBType, dir string) (Database, error) {
	switch dbType {
	case LevelDB:
		return NewLDBDatabase(dir, 16, 16)
	case BadgerDB:
		return NewBadgerDB(dir)
	case MemoryDB:
		return NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", dbType)
	}
}
