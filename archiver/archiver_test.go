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

package archiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/atomizer"
	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/storage/database"
	"github.com/opencbdc/go-cbdc/transaction"
)

func newTestStore() *Store {
	return NewStore(database.NewMemDB(), 16)
}

func makeBlock(height uint64, nTxs int) *atomizer.Block {
	blk := &atomizer.Block{Height: height}
	for i := 0; i < nTxs; i++ {
		blk.Transactions = append(blk.Transactions, transaction.CompactTx{
			ID:      common.RandomHash(),
			Inputs:  []common.Hash{common.RandomHash()},
			Outputs: []common.Hash{common.RandomHash()},
		})
	}
	return blk
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore()
	blk := makeBlock(1, 3)
	require.NoError(t, s.PutBlock(blk))

	got, err := s.GetBlock(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, blk, got)

	missing, err := s.GetBlock(2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBestHeightContiguity(t *testing.T) {
	s := newTestStore()

	best, err := s.BestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), best)

	require.NoError(t, s.PutBlock(makeBlock(1, 0)))
	best, _ = s.BestHeight()
	assert.Equal(t, uint64(1), best)

	// A gap holds the best height back.
	require.NoError(t, s.PutBlock(makeBlock(3, 0)))
	best, _ = s.BestHeight()
	assert.Equal(t, uint64(1), best)

	// Filling the gap advances past the out-of-order block.
	require.NoError(t, s.PutBlock(makeBlock(2, 0)))
	best, _ = s.BestHeight()
	assert.Equal(t, uint64(3), best)
}
