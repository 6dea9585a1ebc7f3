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

	hraft "github.com/hashicorp/raft"

	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// StateMachine adapts a LockingShard to the replicated log. Lock, apply
// and discard commands arrive in committed log order on every replica.
type StateMachine struct {
	shard *LockingShard
}

// NewStateMachine wraps the given shard.
func NewStateMachine(shard *LockingShard) *StateMachine {
	return &StateMachine{shard: shard}
}

// Shard returns the underlying shard for read-only access.
func (sm *StateMachine) Shard() *LockingShard { return sm.shard }

// Apply implements hashicorp/raft's FSM. Responses are *LockResponse for
// lock commands and nil for apply/discard.
func (sm *StateMachine) Apply(entry *hraft.Log) interface{} {
	req, err := DecodeRequest(entry.Data)
	if err != nil {
		logger.Error("Undecodable state machine entry", "index", entry.Index, "err", err)
		return err
	}
	switch r := req.(type) {
	case *LockRequest:
		return &LockResponse{OK: sm.shard.LockOutputs(r.DtxID, r.Txs)}
	case *ApplyRequest:
		sm.shard.ApplyOutputs(r.DtxID, r.CommitFlags)
		return nil
	case *DiscardRequest:
		sm.shard.DiscardDtx(r.DtxID)
		return nil
	default:
		return errUnknownRequest
	}
}

// Snapshot implements hashicorp/raft's FSM.
func (sm *StateMachine) Snapshot() (hraft.FSMSnapshot, error) {
	sm.shard.mu.RLock()
	defer sm.shard.mu.RUnlock()

	var buf bytes.Buffer
	e := binenc.NewEncoder(&buf)
	sm.shard.EncodeTo(e)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return &shardSnapshot{data: buf.Bytes()}, nil
}

// Restore implements hashicorp/raft's FSM. A torn snapshot is fatal.
func (sm *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	d := binenc.NewDecoder(rc)

	sm.shard.mu.Lock()
	defer sm.shard.mu.Unlock()
	sm.shard.DecodeFrom(d)
	if err := d.Err(); err != nil {
		logger.Crit("Failed to restore shard snapshot", "err", err)
		return err
	}
	return nil
}

type shardSnapshot struct {
	data []byte
}

func (s *shardSnapshot) Persist(sink hraft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *shardSnapshot) Release() {}
