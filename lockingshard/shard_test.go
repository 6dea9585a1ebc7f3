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

package lockingshard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/transaction"
)

var fullRange = common.Range{Lo: 0, Hi: 255}

// newTestShard returns a shard owning the whole prefix space with
// attestation checks disabled.
func newTestShard() *LockingShard {
	return NewLockingShard(fullRange, 16, nil, 0)
}

// seed inserts an unspent element directly through the public lifecycle:
// a zero-input mint transaction applied under a throwaway dtx.
func seed(t *testing.T, s *LockingShard, uhsID common.Hash, value uint64) {
	t.Helper()
	mint := Tx{
		Tx:           transaction.CompactTx{ID: common.RandomHash(), Outputs: []common.Hash{uhsID}},
		OutputValues: []uint64{value},
		Epoch:        1,
	}
	dtx := common.RandomHash()
	res := s.LockOutputs(dtx, []Tx{mint})
	require.Equal(t, []bool{true}, res)
	s.ApplyOutputs(dtx, []bool{true})
	s.DiscardDtx(dtx)
	require.True(t, s.CheckUnspent(uhsID))
}

func transfer(in, out common.Hash, value, epoch uint64) Tx {
	return Tx{
		Tx: transaction.CompactTx{
			ID:      common.RandomHash(),
			Inputs:  []common.Hash{in},
			Outputs: []common.Hash{out},
		},
		OutputValues: []uint64{value},
		Epoch:        epoch,
	}
}

func TestSingleTransfer(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	u2 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, u2, 10, 2)
	dtx := common.RandomHash()
	res := s.LockOutputs(dtx, []Tx{tx})
	require.Equal(t, []bool{true}, res)

	// Locked inputs still count as unspent for status queries.
	assert.True(t, s.CheckUnspent(u1))

	s.ApplyOutputs(dtx, []bool{true})
	assert.False(t, s.CheckUnspent(u1))
	assert.True(t, s.CheckUnspent(u2))
	assert.True(t, s.CheckTxID(tx.Tx.ID))

	s.DiscardDtx(dtx)
	assert.True(t, s.CheckUnspent(u2))
}

func TestDoubleSpendRejected(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	seed(t, s, u1, 10)

	txA := transfer(u1, common.RandomHash(), 10, 2)
	txB := transfer(u1, common.RandomHash(), 10, 2)

	dtxA := common.RandomHash()
	dtxB := common.RandomHash()
	resA := s.LockOutputs(dtxA, []Tx{txA})
	resB := s.LockOutputs(dtxB, []Tx{txB})
	require.Equal(t, []bool{true}, resA)
	require.Equal(t, []bool{false}, resB)

	s.ApplyOutputs(dtxA, []bool{true})
	s.ApplyOutputs(dtxB, []bool{false})

	// Supply is unchanged by the losing transaction.
	total, ok := s.GetSummary(2)
	require.True(t, ok)
	assert.Equal(t, uint64(10), total)
	assert.False(t, s.CheckUnspent(u1))
	assert.True(t, s.CheckUnspent(txA.Tx.Outputs[0]))
	assert.False(t, s.CheckUnspent(txB.Tx.Outputs[0]))
}

func TestLockIdempotence(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, common.RandomHash(), 10, 2)
	dtx := common.RandomHash()
	first := s.LockOutputs(dtx, []Tx{tx})
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, s.LockOutputs(dtx, []Tx{tx}))
	}
}

func TestApplyIdempotence(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	u2 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, u2, 10, 2)
	dtx := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx, []Tx{tx}))

	for i := 0; i < 3; i++ {
		s.ApplyOutputs(dtx, []bool{true})
		assert.False(t, s.CheckUnspent(u1))
		assert.True(t, s.CheckUnspent(u2))
		total, ok := s.GetSummary(2)
		require.True(t, ok)
		assert.Equal(t, uint64(10), total)
	}
}

func TestAbortReleasesLocks(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, common.RandomHash(), 10, 2)
	dtx := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx, []Tx{tx}))
	s.ApplyOutputs(dtx, []bool{false})

	assert.True(t, s.CheckUnspent(u1))
	assert.False(t, s.CheckUnspent(tx.Tx.Outputs[0]))

	// The input is spendable again.
	dtx2 := common.RandomHash()
	assert.Equal(t, []bool{true}, s.LockOutputs(dtx2, []Tx{tx}))
}

func TestPartialLockNotObservable(t *testing.T) {
	s := newTestShard()
	present := common.RandomHash()
	missing := common.RandomHash()
	seed(t, s, present, 10)

	tx := Tx{
		Tx: transaction.CompactTx{
			ID:      common.RandomHash(),
			Inputs:  []common.Hash{present, missing},
			Outputs: []common.Hash{common.RandomHash()},
		},
		OutputValues: []uint64{10},
		Epoch:        2,
	}
	dtx := common.RandomHash()
	require.Equal(t, []bool{false}, s.LockOutputs(dtx, []Tx{tx}))

	// The present input must not have been locked by the failed attempt.
	s.ApplyOutputs(dtx, []bool{false})
	other := transfer(present, common.RandomHash(), 10, 3)
	dtx2 := common.RandomHash()
	assert.Equal(t, []bool{true}, s.LockOutputs(dtx2, []Tx{other}))
}

func TestDiscardUnknownDtxIsNoop(t *testing.T) {
	s := newTestShard()
	s.DiscardDtx(common.RandomHash())
}

func TestAttestationThresholdEnforced(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	keys := map[crypto.PublicKey]struct{}{crypto.PubKeyOf(priv): {}}
	s := NewLockingShard(fullRange, 16, keys, 1)

	u1 := common.RandomHash()
	tx := transfer(u1, common.RandomHash(), 10, 1)

	// No attestations: rejected before any state check.
	dtx := common.RandomHash()
	require.Equal(t, []bool{false}, s.LockOutputs(dtx, []Tx{tx}))

	// A valid attestation from the known key passes the threshold; the
	// lock then fails only because the input does not exist yet.
	att, err := transaction.Attest(priv, &tx.Tx)
	require.NoError(t, err)
	tx.Tx.Attestations = []transaction.Attestation{att}
	dtx2 := common.RandomHash()
	require.Equal(t, []bool{false}, s.LockOutputs(dtx2, []Tx{tx}))

	mint := Tx{
		Tx:           transaction.CompactTx{ID: common.RandomHash(), Outputs: []common.Hash{u1}},
		OutputValues: []uint64{10},
		Epoch:        1,
	}
	matt, err := transaction.Attest(priv, &mint.Tx)
	require.NoError(t, err)
	mint.Tx.Attestations = []transaction.Attestation{matt}
	dtx3 := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx3, []Tx{mint}))
	s.ApplyOutputs(dtx3, []bool{true})

	dtx4 := common.RandomHash()
	assert.Equal(t, []bool{true}, s.LockOutputs(dtx4, []Tx{tx}))
}

func TestRangeOwnershipIgnoresForeignHashes(t *testing.T) {
	half := common.Range{Lo: 0, Hi: 127}
	s := NewLockingShard(half, 16, nil, 0)

	foreign := common.Hash{0xff}
	owned := common.Hash{0x01}

	mint := Tx{
		Tx:           transaction.CompactTx{ID: common.Hash{0x02}, Outputs: []common.Hash{owned, foreign}},
		OutputValues: []uint64{5, 7},
		Epoch:        1,
	}
	dtx := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx, []Tx{mint}))
	s.ApplyOutputs(dtx, []bool{true})

	assert.True(t, s.CheckUnspent(owned))
	assert.False(t, s.CheckUnspent(foreign))

	// A tx spending only the foreign input locks trivially here.
	tx := Tx{
		Tx:    transaction.CompactTx{ID: common.Hash{0x03}, Inputs: []common.Hash{foreign}},
		Epoch: 2,
	}
	dtx2 := common.RandomHash()
	assert.Equal(t, []bool{true}, s.LockOutputs(dtx2, []Tx{tx}))
}

func TestHighestEpochTracksLocks(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	seed(t, s, u1, 10)
	assert.Equal(t, uint64(1), s.HighestEpoch())

	tx := transfer(u1, common.RandomHash(), 10, 7)
	s.LockOutputs(common.RandomHash(), []Tx{tx})
	assert.Equal(t, uint64(7), s.HighestEpoch())
}

func TestPruneDropsOldSpent(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	u2 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, u2, 10, 2)
	dtx := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx, []Tx{tx}))
	s.ApplyOutputs(dtx, []bool{true})

	// Summary at epoch 1 still sees the original element.
	total, ok := s.GetSummary(1)
	require.True(t, ok)
	assert.Equal(t, uint64(10), total)

	s.Prune(3)

	// After pruning, the epoch-1 view lost the spent element but the
	// current supply is intact.
	total, _ = s.GetSummary(1)
	assert.Equal(t, uint64(0), total)
	total, _ = s.GetSummary(3)
	assert.Equal(t, uint64(10), total)
}

func TestConservationAcrossEpochs(t *testing.T) {
	s := newTestShard()
	u1 := common.RandomHash()
	u2 := common.RandomHash()
	seed(t, s, u1, 25)

	tx := transfer(u1, u2, 25, 5)
	dtx := common.RandomHash()
	require.Equal(t, []bool{true}, s.LockOutputs(dtx, []Tx{tx}))
	s.ApplyOutputs(dtx, []bool{true})

	for epoch := uint64(1); epoch <= 6; epoch++ {
		total, ok := s.GetSummary(epoch)
		require.True(t, ok)
		assert.Equal(t, uint64(25), total, "epoch %d", epoch)
	}
}

func TestPreseedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preseed")

	uhs := map[common.Hash]UHSElement{
		common.RandomHash(): {Value: 5, CreationEpoch: 0},
		common.RandomHash(): {Value: 7, CreationEpoch: 0},
	}
	require.NoError(t, WritePreseedFile(path, uhs))

	s := newTestShard()
	require.NoError(t, s.ReadPreseedFile(path))
	for id := range uhs {
		assert.True(t, s.CheckUnspent(id))
	}
	total, ok := s.GetSummary(0)
	require.True(t, ok)
	assert.Equal(t, uint64(12), total)
}
