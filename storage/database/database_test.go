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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	assert.Equal(t, ErrKeyNotFound, err)

	require.NoError(t, db.Put([]byte("k1"), []byte("v1")))
	v, err := db.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	ok, err := db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete([]byte("k1")))
	ok, err = db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)

	batch := db.NewBatch()
	require.NoError(t, batch.Put([]byte("b1"), []byte("x")))
	require.NoError(t, batch.Put([]byte("b2"), []byte("yz")))
	assert.Equal(t, 3, batch.ValueSize())
	require.NoError(t, batch.Write())

	v, err = db.Get([]byte("b2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yz"), v)
}

func TestMemDB(t *testing.T) {
	testBackend(t, NewMemDB())
}

func TestLevelDB(t *testing.T) {
	db, err := New(LevelDB, t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, LevelDB, db.Type())
	testBackend(t, db)
}

func TestUnknownBackend(t *testing.T) {
	_, err := New("bogus", "")
	assert.Error(t, err)
}
