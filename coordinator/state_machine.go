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

// Package coordinator implements the distributed-transaction orchestrator
// of the 2PC pipeline: a replicated dtx table driving lock, commit and
// discard across the locking shards, with recovery after leader failover.
package coordinator

import (
	"bytes"
	"io"
	"sync"

	hraft "github.com/hashicorp/raft"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/lockingshard"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

var logger = log.NewModuleLogger(log.Coordinator)

// PrepareRecord is a dtx in the prepare phase: its batch, with epochs
// already assigned.
type PrepareRecord struct {
	Txs []lockingshard.Tx
}

// CommitRecord is a dtx in the commit phase: the batch, the commit
// decision per transaction, and the lock results observed per shard.
type CommitRecord struct {
	Txs         []lockingshard.Tx
	CommitFlags []bool
	ShardStates []ShardState
}

// ShardState records which inputs locked successfully on one shard.
type ShardState struct {
	Shard uint64
	OK    []bool
}

// State is the replicated dtx table.
type State struct {
	PrepareTxs map[common.Hash]PrepareRecord
	CommitTxs  map[common.Hash]CommitRecord
	DiscardTxs map[common.Hash]struct{}
}

// StateMachine replicates the dtx table. Its only lock is for snapshot
// readers; mutations are serialized by the log.
type StateMachine struct {
	mu sync.RWMutex

	prepareTxs map[common.Hash]PrepareRecord
	commitTxs  map[common.Hash]CommitRecord
	discardTxs map[common.Hash]struct{}

	nextEpoch uint64
}

// NewStateMachine returns an empty coordinator state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		prepareTxs: make(map[common.Hash]PrepareRecord),
		commitTxs:  make(map[common.Hash]CommitRecord),
		discardTxs: make(map[common.Hash]struct{}),
		nextEpoch:  1,
	}
}

// Apply implements hashicorp/raft's FSM. Prepare returns the epoch
// assigned to the dtx (uint64); discard and done return nil, and so does
// commit unless the dtx has no prepare record, in which case it returns an
// error.
func (sm *StateMachine) Apply(entry *hraft.Log) interface{} {
	cmd, err := DecodeCommand(entry.Data)
	if err != nil {
		logger.Error("Undecodable state machine entry", "index", entry.Index, "err", err)
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch c := cmd.(type) {
	case *PrepareCommand:
		if rec, ok := sm.prepareTxs[c.DtxID]; ok {
			// Idempotent retry: the epoch was already assigned.
			return recordEpoch(rec)
		}
		epoch := sm.nextEpoch
		sm.nextEpoch++
		txs := make([]lockingshard.Tx, len(c.Txs))
		copy(txs, c.Txs)
		for i := range txs {
			txs[i].Epoch = epoch
		}
		sm.prepareTxs[c.DtxID] = PrepareRecord{Txs: txs}
		return epoch
	case *CommitCommand:
		if _, ok := sm.commitTxs[c.DtxID]; ok {
			return nil
		}
		rec, ok := sm.prepareTxs[c.DtxID]
		if !ok {
			logger.Error("Commit for unknown dtx", "dtx", c.DtxID)
			return errUnknownDtx
		}
		delete(sm.prepareTxs, c.DtxID)
		sm.commitTxs[c.DtxID] = CommitRecord{
			Txs:         rec.Txs,
			CommitFlags: c.CommitFlags,
			ShardStates: c.ShardStates,
		}
		return nil
	case *DiscardCommand:
		delete(sm.commitTxs, c.DtxID)
		sm.discardTxs[c.DtxID] = struct{}{}
		return nil
	case *DoneCommand:
		delete(sm.discardTxs, c.DtxID)
		return nil
	default:
		return errUnknownCommand
	}
}

func recordEpoch(rec PrepareRecord) uint64 {
	if len(rec.Txs) == 0 {
		return 0
	}
	return rec.Txs[0].Epoch
}

// ContainsDtx reports whether the dtx ID is present in any phase. Used to
// reject dtx ID collisions before replicating a prepare.
func (sm *StateMachine) ContainsDtx(dtxID common.Hash) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if _, ok := sm.prepareTxs[dtxID]; ok {
		return true
	}
	if _, ok := sm.commitTxs[dtxID]; ok {
		return true
	}
	_, ok := sm.discardTxs[dtxID]
	return ok
}

// Get returns a deep-enough copy of the dtx table for recovery. The
// caller must have issued a log barrier first so the copy reflects every
// committed command.
func (sm *StateMachine) Get() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	st := State{
		PrepareTxs: make(map[common.Hash]PrepareRecord, len(sm.prepareTxs)),
		CommitTxs:  make(map[common.Hash]CommitRecord, len(sm.commitTxs)),
		DiscardTxs: make(map[common.Hash]struct{}, len(sm.discardTxs)),
	}
	for id, rec := range sm.prepareTxs {
		st.PrepareTxs[id] = rec
	}
	for id, rec := range sm.commitTxs {
		st.CommitTxs[id] = rec
	}
	for id := range sm.discardTxs {
		st.DiscardTxs[id] = struct{}{}
	}
	return st
}

// Snapshot implements hashicorp/raft's FSM.
func (sm *StateMachine) Snapshot() (hraft.FSMSnapshot, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var buf bytes.Buffer
	e := binenc.NewEncoder(&buf)

	e.WriteUint64(sm.nextEpoch)

	e.WriteLen(len(sm.prepareTxs))
	for id, rec := range sm.prepareTxs {
		e.WriteHash(id)
		encodeTxs(e, rec.Txs)
	}

	e.WriteLen(len(sm.commitTxs))
	for id, rec := range sm.commitTxs {
		e.WriteHash(id)
		encodeTxs(e, rec.Txs)
		e.WriteBools(rec.CommitFlags)
		encodeShardStates(e, rec.ShardStates)
	}

	e.WriteLen(len(sm.discardTxs))
	for id := range sm.discardTxs {
		e.WriteHash(id)
	}

	if err := e.Err(); err != nil {
		return nil, err
	}
	return &coordinatorSnapshot{data: buf.Bytes()}, nil
}

// Restore implements hashicorp/raft's FSM. A torn snapshot is fatal.
func (sm *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	d := binenc.NewDecoder(rc)

	next := d.ReadUint64()

	n := d.ReadLen()
	prepare := make(map[common.Hash]PrepareRecord, n)
	if d.Err() == nil {
		for i := 0; i < n; i++ {
			id := d.ReadHash()
			prepare[id] = PrepareRecord{Txs: decodeTxs(d)}
		}
	}

	n = d.ReadLen()
	commit := make(map[common.Hash]CommitRecord, n)
	if d.Err() == nil {
		for i := 0; i < n; i++ {
			id := d.ReadHash()
			rec := CommitRecord{Txs: decodeTxs(d)}
			rec.CommitFlags = d.ReadBools()
			rec.ShardStates = decodeShardStates(d)
			commit[id] = rec
		}
	}

	n = d.ReadLen()
	discard := make(map[common.Hash]struct{}, n)
	if d.Err() == nil {
		for i := 0; i < n; i++ {
			discard[d.ReadHash()] = struct{}{}
		}
	}

	if err := d.Err(); err != nil {
		logger.Crit("Failed to restore coordinator snapshot", "err", err)
		return err
	}

	sm.mu.Lock()
	sm.nextEpoch = next
	sm.prepareTxs = prepare
	sm.commitTxs = commit
	sm.discardTxs = discard
	sm.mu.Unlock()
	return nil
}

type coordinatorSnapshot struct {
	data []byte
}

func (s *coordinatorSnapshot) Persist(sink hraft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *coordinatorSnapshot) Release() {}
