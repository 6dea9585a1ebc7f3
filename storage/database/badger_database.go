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
	"fmt"
	"os"

	"github.com/dgraph-io/badger"

	"github.com/opencbdc/go-cbdc/log"
)

type badgerDB struct {
	fn string
	db *badger.DB

	logger log.Logger
}

func getBadgerDBOptions(dbDir string) badger.Options {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil
	return opts
}

// NewBadgerDB opens a Badger store under dbDir, creating it if needed.
func NewBadgerDB(dbDir string) (Database, error) {
	localLogger := logger.NewWith("dbDir", dbDir)

	if fi, err := os.Stat(dbDir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("badger dir %s is not a directory", dbDir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating badger dir %s: %w", dbDir, err)
		}
	} else {
		return nil, err
	}

	db, err := badger.Open(getBadgerDBOptions(dbDir))
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dbDir, err)
	}
	localLogger.Info("Opened Badger database")
	return &badgerDB{fn: dbDir, db: db, logger: localLogger}, nil
}

func (db *badgerDB) Type() DBType { return BadgerDB }

func (db *badgerDB) Put(key []byte, value []byte) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (db *badgerDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return out, err
}

func (db *badgerDB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (db *badgerDB) Delete(key []byte) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (db *badgerDB) Close() {
	if err := db.db.Close(); err != nil {
		db.logger.Error("Failed to close database", "err", err)
		return
	}
	db.logger.Info("Database closed")
}

func (db *badgerDB) NewBatch() Batch {
	return &badgerBatch{db: db.db, txn: db.db.NewTransaction(true)}
}

type badgerBatch struct {
	db   *badger.DB
	txn  *badger.Txn
	size int
}

func (b *badgerBatch) Put(key, value []byte) error {
	if err := b.txn.Set(key, value); err != nil {
		return err
	}
	b.size += len(value)
	return nil
}

func (b *badgerBatch) Write() error {
	return b.txn.Commit()
}

func (b *badgerBatch) Reset() {
	b.txn.Discard()
	b.txn = b.db.NewTransaction(true)
	b.size = 0
}

func (b *badgerBatch) ValueSize() int {
	return b.size
}
