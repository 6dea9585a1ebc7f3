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
	"bytes"
	"io"
	"testing"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/watchtower"
)

func apply(t *testing.T, sm *StateMachine, req binenc.Encodable) interface{} {
	t.Helper()
	buf, err := binenc.Marshal(req)
	require.NoError(t, err)
	return sm.Apply(&hraft.Log{Data: buf})
}

func TestStateMachineAggregateAndBlock(t *testing.T) {
	sm := NewStateMachine(2, 16)

	ctx := makeCtx(1)
	res := apply(t, sm, &AggregateTxNotifyRequest{
		Aggregates: []AggregateTxNotification{{Tx: ctx, OldestAttestation: 0}},
	})
	errs, ok := res.(watchtower.TxErrors)
	require.True(t, ok)
	assert.Empty(t, errs)

	res = apply(t, sm, &MakeBlockRequest{})
	resp, ok := res.(*MakeBlockResponse)
	require.True(t, ok)
	assert.Equal(t, uint64(1), resp.Block.Height)
	require.Len(t, resp.Block.Transactions, 1)
	assert.Equal(t, ctx.ID, resp.Block.Transactions[0].ID)
	assert.Equal(t, uint64(1), sm.NotifyCount())
}

func TestStateMachineGetAndPrune(t *testing.T) {
	sm := NewStateMachine(2, 16)
	for i := 0; i < 3; i++ {
		apply(t, sm, &MakeBlockRequest{})
	}

	res := apply(t, sm, &GetBlockRequest{Height: 2})
	got, ok := res.(getBlockResult)
	require.True(t, ok)
	require.NotNil(t, got.block)
	assert.Equal(t, uint64(2), got.block.Height)

	apply(t, sm, &PruneRequest{Height: 3})

	res = apply(t, sm, &GetBlockRequest{Height: 2})
	got = res.(getBlockResult)
	assert.Nil(t, got.block)
	res = apply(t, sm, &GetBlockRequest{Height: 3})
	got = res.(getBlockResult)
	assert.NotNil(t, got.block)
}

func TestStateMachineBlockCacheBound(t *testing.T) {
	sm := NewStateMachine(2, 2)
	for i := 0; i < 5; i++ {
		apply(t, sm, &MakeBlockRequest{})
	}
	res := apply(t, sm, &GetBlockRequest{Height: 1})
	assert.Nil(t, res.(getBlockResult).block)
	res = apply(t, sm, &GetBlockRequest{Height: 5})
	assert.NotNil(t, res.(getBlockResult).block)
}

type memSink struct {
	bytes.Buffer
	id string
}

func (s *memSink) ID() string    { return s.id }
func (s *memSink) Cancel() error { return nil }
func (s *memSink) Close() error  { return nil }

func TestStateMachineSnapshotRestore(t *testing.T) {
	sm := NewStateMachine(2, 16)
	apply(t, sm, &AggregateTxNotifyRequest{
		Aggregates: []AggregateTxNotification{{Tx: makeCtx(1), OldestAttestation: 0}},
	})
	apply(t, sm, &MakeBlockRequest{})

	snap, err := sm.Snapshot()
	require.NoError(t, err)
	sink := &memSink{id: "snap-1"}
	require.NoError(t, snap.Persist(sink))
	snap.Release()

	restored := NewStateMachine(2, 16)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	assert.Equal(t, sm.Height(), restored.Height())
	res := apply(t, restored, &GetBlockRequest{Height: 1})
	got := res.(getBlockResult)
	require.NotNil(t, got.block)
	assert.Len(t, got.block.Transactions, 1)
}

func TestStateMachineUndecodableEntry(t *testing.T) {
	sm := NewStateMachine(2, 16)
	res := sm.Apply(&hraft.Log{Data: []byte{0xff, 0x01}})
	_, isErr := res.(error)
	assert.True(t, isErr)
}
