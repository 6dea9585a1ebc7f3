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
	"bytes"
	"io"
	"testing"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
)

func TestRequestRoundTrips(t *testing.T) {
	lock := &LockRequest{
		DtxID: common.RandomHash(),
		Txs: []Tx{{
			Tx: transaction.CompactTx{
				ID:      common.RandomHash(),
				Inputs:  []common.Hash{common.RandomHash()},
				Outputs: []common.Hash{common.RandomHash()},
			},
			OutputValues: []uint64{9},
			Epoch:        3,
		}},
	}
	buf, err := binenc.Marshal(lock)
	require.NoError(t, err)
	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, lock, got)

	apply := &ApplyRequest{DtxID: common.RandomHash(), CommitFlags: []bool{true, false}}
	buf, err = binenc.Marshal(apply)
	require.NoError(t, err)
	got, err = DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, apply, got)

	discard := &DiscardRequest{DtxID: common.RandomHash()}
	buf, err = binenc.Marshal(discard)
	require.NoError(t, err)
	got, err = DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, discard, got)
}

func TestStatusRequestRoundTrips(t *testing.T) {
	uhs := &UHSStatusRequest{UHSID: common.RandomHash()}
	buf, err := binenc.Marshal(uhs)
	require.NoError(t, err)
	got, err := DecodeStatusRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uhs, got)

	txq := &TxStatusRequest{TxID: common.RandomHash()}
	buf, err = binenc.Marshal(txq)
	require.NoError(t, err)
	got, err = DecodeStatusRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, txq, got)
}

func TestStateMachineApply(t *testing.T) {
	s := newTestShard()
	sm := NewStateMachine(s)

	u1 := common.RandomHash()
	seed(t, s, u1, 10)

	tx := transfer(u1, common.RandomHash(), 10, 2)
	dtx := common.RandomHash()

	buf, err := binenc.Marshal(&LockRequest{DtxID: dtx, Txs: []Tx{tx}})
	require.NoError(t, err)
	res := sm.Apply(&hraft.Log{Data: buf})
	lockRes, ok := res.(*LockResponse)
	require.True(t, ok)
	assert.Equal(t, []bool{true}, lockRes.OK)

	buf, err = binenc.Marshal(&ApplyRequest{DtxID: dtx, CommitFlags: []bool{true}})
	require.NoError(t, err)
	assert.Nil(t, sm.Apply(&hraft.Log{Data: buf}))

	buf, err = binenc.Marshal(&DiscardRequest{DtxID: dtx})
	require.NoError(t, err)
	assert.Nil(t, sm.Apply(&hraft.Log{Data: buf}))

	assert.True(t, s.CheckTxID(tx.Tx.ID))
}

type memSink struct {
	bytes.Buffer
}

func (s *memSink) ID() string    { return "snap" }
func (s *memSink) Cancel() error { return nil }
func (s *memSink) Close() error  { return nil }

type readCloser struct {
	io.Reader
}

func (r *readCloser) Close() error { return nil }

func TestStateMachineSnapshotRoundTrip(t *testing.T) {
	s := newTestShard()
	sm := NewStateMachine(s)
	u1 := common.RandomHash()
	seed(t, s, u1, 10)
	tx := transfer(u1, common.RandomHash(), 10, 2)
	s.LockOutputs(common.RandomHash(), []Tx{tx})

	snap, err := sm.Snapshot()
	require.NoError(t, err)
	sink := &memSink{}
	require.NoError(t, snap.Persist(sink))

	restored := NewStateMachine(newTestShard())
	require.NoError(t, restored.Restore(&readCloser{Reader: &sink.Buffer}))

	assert.True(t, restored.Shard().CheckUnspent(u1) == s.CheckUnspent(u1))
	assert.Equal(t, s.HighestEpoch(), restored.Shard().HighestEpoch())
}
