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
	"sort"
	"sync"

	hraft "github.com/hashicorp/raft"

	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/watchtower"
)

var txNotifyCounter = metrics.NewRegisteredCounter("atomizer/notifications")

// StateMachine replicates an Atomizer and its block cache through the log.
// Commands apply in committed log order; reads of the block cache go
// through the log as well so every replica answers identically.
type StateMachine struct {
	mu sync.RWMutex

	atomizer    *Atomizer
	blocks      map[uint64]*Block
	cacheSize   int
	depth       uint64
	notifyTally uint64
}

// NewStateMachine returns a state machine with a fresh atomizer.
func NewStateMachine(stxoCacheDepth uint64, blockCacheSize int) *StateMachine {
	return &StateMachine{
		atomizer:  NewAtomizer(0, stxoCacheDepth),
		blocks:    make(map[uint64]*Block),
		cacheSize: blockCacheSize,
		depth:     stxoCacheDepth,
	}
}

// Apply implements hashicorp/raft's FSM. The returned value is the
// command's response: *MakeBlockResponse, *Block (possibly nil wrapped in
// getBlockResult), watchtower.TxErrors, or an error for undecodable
// entries.
func (sm *StateMachine) Apply(entry *hraft.Log) interface{} {
	cmd, err := decodeCommand(entry.Data)
	if err != nil {
		logger.Error("Undecodable state machine entry", "index", entry.Index, "err", err)
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch req := cmd.(type) {
	case *AggregateTxNotifyRequest:
		var errs watchtower.TxErrors
		for i := range req.Aggregates {
			agg := &req.Aggregates[i]
			if txErr := sm.atomizer.InsertComplete(agg.OldestAttestation, agg.Tx); txErr != nil {
				errs = append(errs, *txErr)
			}
			sm.notifyTally++
			txNotifyCounter.Inc(1)
		}
		return errs
	case *MakeBlockRequest:
		blk, errs := sm.atomizer.MakeBlock()
		stored := blk
		sm.blocks[stored.Height] = &stored
		sm.evictBlocks()
		return &MakeBlockResponse{Block: blk, Errors: errs}
	case *GetBlockRequest:
		return getBlockResult{block: sm.blocks[req.Height]}
	case *PruneRequest:
		for h := range sm.blocks {
			if h < req.Height {
				delete(sm.blocks, h)
			}
		}
		return nil
	default:
		return errUnknownCommand
	}
}

// getBlockResult wraps a block cache lookup; block is nil on a miss.
type getBlockResult struct {
	block *Block
}

func (sm *StateMachine) evictBlocks() {
	if sm.cacheSize <= 0 || len(sm.blocks) <= sm.cacheSize {
		return
	}
	heights := make([]uint64, 0, len(sm.blocks))
	for h := range sm.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights[:len(heights)-sm.cacheSize] {
		delete(sm.blocks, h)
	}
}

// Height returns the current best height.
func (sm *StateMachine) Height() uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.atomizer.Height()
}

// NotifyCount returns the number of aggregate notifications applied.
func (sm *StateMachine) NotifyCount() uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.notifyTally
}

type snapshotState struct {
	atomizer []byte
	blocks   []byte
}

// Snapshot implements hashicorp/raft's FSM: a value-clone of the state is
// serialized under the read lock and persisted by the snapshot sink.
func (sm *StateMachine) Snapshot() (hraft.FSMSnapshot, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var atom bytes.Buffer
	e := binenc.NewEncoder(&atom)
	sm.atomizer.EncodeTo(e)
	if err := e.Err(); err != nil {
		return nil, err
	}

	var blocks bytes.Buffer
	be := binenc.NewEncoder(&blocks)
	be.WriteLen(len(sm.blocks))
	heights := make([]uint64, 0, len(sm.blocks))
	for h := range sm.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		sm.blocks[h].EncodeTo(be)
	}
	if err := be.Err(); err != nil {
		return nil, err
	}

	return &fsmSnapshot{state: snapshotState{atomizer: atom.Bytes(), blocks: blocks.Bytes()}}, nil
}

// Restore implements hashicorp/raft's FSM. A torn snapshot is fatal: the
// state machine cannot continue from partial state.
func (sm *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	d := binenc.NewDecoder(rc)

	atom := NewAtomizer(0, sm.depth)
	atom.DecodeFrom(d)

	n := d.ReadLen()
	blocks := make(map[uint64]*Block, n)
	if d.Err() == nil {
		for i := 0; i < n; i++ {
			var blk Block
			blk.DecodeFrom(d)
			blocks[blk.Height] = &blk
		}
	}
	if err := d.Err(); err != nil {
		logger.Crit("Failed to restore atomizer snapshot", "err", err)
		return err
	}

	sm.mu.Lock()
	sm.atomizer = atom
	sm.blocks = blocks
	sm.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	state snapshotState
}

func (s *fsmSnapshot) Persist(sink hraft.SnapshotSink) error {
	if _, err := sink.Write(s.state.atomizer); err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(s.state.blocks); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
