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

package atomizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
	"github.com/opencbdc/go-cbdc/watchtower"
)

func makeCtx(nInputs int) transaction.CompactTx {
	ctx := transaction.CompactTx{ID: common.RandomHash()}
	for i := 0; i < nInputs; i++ {
		ctx.Inputs = append(ctx.Inputs, common.RandomHash())
	}
	ctx.Outputs = append(ctx.Outputs, common.RandomHash())
	return ctx
}

// advance seals n blocks, dropping the results.
func advance(a *Atomizer, n int) {
	for i := 0; i < n; i++ {
		a.MakeBlock()
	}
}

func TestInsertCompleteAcceptance(t *testing.T) {
	a := NewAtomizer(0, 2)
	err := a.InsertComplete(0, makeCtx(1))
	assert.Nil(t, err)
	assert.Equal(t, 1, a.PendingCount())
}

func TestStxoRangeBoundary(t *testing.T) {
	const depth = 2
	a := NewAtomizer(0, depth)
	advance(a, 10)
	require.Equal(t, uint64(10), a.Height())

	// Attestation exactly at height h-K is rejected.
	err := a.InsertComplete(10-depth, makeCtx(1))
	require.NotNil(t, err)
	assert.Equal(t, watchtower.ErrCodeStxoRange, err.Code)

	// One block newer is accepted.
	err = a.InsertComplete(10-depth+1, makeCtx(1))
	assert.Nil(t, err)
}

func TestStxoRangeStaleAttestation(t *testing.T) {
	// Scenario: depth 2, height 10, oldest attestation 7.
	a := NewAtomizer(0, 2)
	advance(a, 10)
	err := a.InsertComplete(7, makeCtx(1))
	require.NotNil(t, err)
	assert.Equal(t, watchtower.ErrCodeStxoRange, err.Code)
}

func TestDoubleSpendWithinPendingBlock(t *testing.T) {
	a := NewAtomizer(0, 2)
	shared := common.RandomHash()

	first := makeCtx(0)
	first.Inputs = []common.Hash{shared}
	require.Nil(t, a.InsertComplete(0, first))

	second := makeCtx(0)
	second.Inputs = []common.Hash{shared, common.RandomHash()}
	err := a.InsertComplete(0, second)
	require.NotNil(t, err)
	assert.Equal(t, watchtower.ErrCodeInputsSpent, err.Code)
	assert.Equal(t, []common.Hash{shared}, err.SpentInputs)
	assert.Equal(t, 1, a.PendingCount())
}

func TestCacheSoundnessAcrossBlocks(t *testing.T) {
	const depth = 3
	a := NewAtomizer(0, depth)
	spent := makeCtx(1)
	require.Nil(t, a.InsertComplete(0, spent))
	blk, _ := a.MakeBlock()
	require.Len(t, blk.Transactions, 1)

	// While the spend is within the cache window (positions 0..K),
	// replays are rejected.
	for i := 0; i < depth+1; i++ {
		replay := makeCtx(0)
		replay.Inputs = spent.Inputs
		err := a.InsertComplete(a.Height(), replay)
		require.NotNil(t, err, "height %d", a.Height())
		assert.Equal(t, watchtower.ErrCodeInputsSpent, err.Code)
		advance(a, 1)
	}

	// Once the spend rotates out, only attestation age still guards it.
	replay := makeCtx(0)
	replay.Inputs = spent.Inputs
	assert.Nil(t, a.InsertComplete(a.Height(), replay))
}

func TestMonotoneHeights(t *testing.T) {
	a := NewAtomizer(0, 2)
	for want := uint64(1); want <= 5; want++ {
		blk, _ := a.MakeBlock()
		assert.Equal(t, want, blk.Height)
		assert.Equal(t, want, a.Height())
	}
}

func TestBlockOrderFollowsInsertion(t *testing.T) {
	a := NewAtomizer(0, 2)
	var ids []common.Hash
	for i := 0; i < 4; i++ {
		ctx := makeCtx(1)
		ids = append(ids, ctx.ID)
		require.Nil(t, a.InsertComplete(0, ctx))
	}
	blk, _ := a.MakeBlock()
	require.Len(t, blk.Transactions, len(ids))
	for i, ctx := range blk.Transactions {
		assert.Equal(t, ids[i], ctx.ID)
	}
}

func TestPartialAggregationCompletes(t *testing.T) {
	a := NewAtomizer(0, 4)
	advance(a, 4)
	ctx := makeCtx(2)

	// First input attested at height 3, nothing completes yet.
	assert.Nil(t, a.Insert(3, ctx, []uint64{0}))
	assert.Equal(t, 0, a.PendingCount())

	// Second input at height 4 completes the set; the oldest attestation
	// height governs the window check.
	assert.Nil(t, a.Insert(4, ctx, []uint64{1}))
	assert.Equal(t, 1, a.PendingCount())
}

func TestIncompleteEviction(t *testing.T) {
	// Scenario: a two-input tx with one attestation is evicted after K
	// make_block cycles with an incomplete error.
	const depth = 2
	a := NewAtomizer(0, depth)
	ctx := makeCtx(2)
	require.Nil(t, a.Insert(0, ctx, []uint64{0}))

	var evicted watchtower.TxErrors
	for i := 0; i < depth; i++ {
		assert.Empty(t, evicted)
		_, evicted = a.MakeBlock()
	}
	require.Len(t, evicted, 1)
	assert.Equal(t, ctx.ID, evicted[0].TxID)
	assert.Equal(t, watchtower.ErrCodeIncomplete, evicted[0].Code)
}

func TestInsertKeepsOldestHeightPerIndex(t *testing.T) {
	a := NewAtomizer(0, 3)
	advance(a, 2)
	ctx := makeCtx(2)

	// Index 0 is attested at height 2 and again at height 1; the older
	// height must be retained for the completeness check.
	require.Nil(t, a.Insert(2, ctx, []uint64{0}))
	require.Nil(t, a.Insert(1, ctx, []uint64{0}))
	require.Nil(t, a.Insert(2, ctx, []uint64{1}))
	assert.Equal(t, 1, a.PendingCount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := NewAtomizer(0, 3)
	advance(a, 2)
	require.Nil(t, a.InsertComplete(2, makeCtx(1)))
	require.Nil(t, a.Insert(2, makeCtx(2), []uint64{0}))

	buf, err := binenc.Marshal(a)
	require.NoError(t, err)

	restored := NewAtomizer(0, 0)
	require.NoError(t, binenc.Unmarshal(buf, restored))

	buf2, err := binenc.Marshal(restored)
	require.NoError(t, err)
	assert.Equal(t, a.Height(), restored.Height())
	assert.Equal(t, a.PendingCount(), restored.PendingCount())
	assert.Equal(t, len(buf), len(buf2))
}
