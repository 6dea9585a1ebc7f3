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

// Package atomizer implements the ordered-block settlement pipeline:
// aggregation of per-input attestations, block construction over a rolling
// spent-output cache, the raft state machine replicating it, and the
// leader-side controller driving block cadence and broadcast.
package atomizer

import (
	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/ser/binenc"
	"github.com/opencbdc/go-cbdc/transaction"
	"github.com/opencbdc/go-cbdc/watchtower"
)

var logger = log.NewModuleLogger(log.Atomizer)

type pendingAggregate struct {
	tx transaction.CompactTx
	// attested maps an input index to the oldest attestation height seen
	// for that index.
	attested map[uint64]uint64
}

// Atomizer holds the pure settlement state: transactions pending for the
// next block, partially attested aggregates, and the spent-cache window.
// It is not safe for concurrent use; the state machine serializes access.
type Atomizer struct {
	partial  map[common.Hash]*pendingAggregate
	complete []transaction.CompactTx

	// spent[0] holds the UHS IDs reserved for the block under
	// construction together with the inputs of the most recently sealed
	// block, which MakeBlock copies into the new front set it pushes;
	// spent[i] is the set that was at the front i blocks ago.
	spent []map[common.Hash]struct{}

	bestHeight uint64
	depth      uint64
}

// NewAtomizer returns an atomizer starting at the given height with a
// spent-cache of the given depth.
func NewAtomizer(bestHeight, depth uint64) *Atomizer {
	a := &Atomizer{
		partial:    make(map[common.Hash]*pendingAggregate),
		bestHeight: bestHeight,
		depth:      depth,
	}
	a.spent = append(a.spent, make(map[common.Hash]struct{}))
	return a
}

// Height returns the height of the most recently sealed block.
func (a *Atomizer) Height() uint64 { return a.bestHeight }

// PendingCount returns the number of transactions awaiting the next block.
func (a *Atomizer) PendingCount() int { return len(a.complete) }

// tooOld reports whether an attestation at the given height is older than
// the spent-cache can vouch for at the current best height.
func (a *Atomizer) tooOld(height uint64) bool {
	return height+a.depth <= a.bestHeight
}

func (a *Atomizer) spentInputs(tx *transaction.CompactTx) []common.Hash {
	var hit []common.Hash
	for _, in := range tx.Inputs {
		for _, set := range a.spent {
			if _, ok := set[in]; ok {
				hit = append(hit, in)
				break
			}
		}
	}
	return hit
}

// Insert merges shard attestations for the given input indices, observed at
// the given block height, into the pending aggregate for tx. When the
// aggregate first covers every input, the transaction moves to the pending
// block via InsertComplete. Returns an error report to forward to the
// watchtower, or nil.
func (a *Atomizer) Insert(height uint64, tx transaction.CompactTx, indices []uint64) *watchtower.TxError {
	if a.tooOld(height) {
		return &watchtower.TxError{TxID: tx.ID, Code: watchtower.ErrCodeStxoRange}
	}
	agg, ok := a.partial[tx.ID]
	if !ok {
		agg = &pendingAggregate{tx: tx, attested: make(map[uint64]uint64)}
		a.partial[tx.ID] = agg
	}
	for _, idx := range indices {
		if prev, seen := agg.attested[idx]; !seen || height < prev {
			agg.attested[idx] = height
		}
	}
	if len(agg.attested) < len(agg.tx.Inputs) {
		return nil
	}
	delete(a.partial, tx.ID)
	oldest := height
	for _, h := range agg.attested {
		if h < oldest {
			oldest = h
		}
	}
	return a.InsertComplete(oldest, agg.tx)
}

// InsertComplete adds a fully attested transaction to the pending block.
// The attestation set's oldest height must fall inside the spent-cache
// window, and no input may appear in the cache; violations return the
// corresponding error report and leave the state untouched.
func (a *Atomizer) InsertComplete(oldestAttestation uint64, tx transaction.CompactTx) *watchtower.TxError {
	if a.tooOld(oldestAttestation) {
		return &watchtower.TxError{TxID: tx.ID, Code: watchtower.ErrCodeStxoRange}
	}
	if hit := a.spentInputs(&tx); len(hit) > 0 {
		return &watchtower.TxError{
			TxID:        tx.ID,
			Code:        watchtower.ErrCodeInputsSpent,
			SpentInputs: hit,
		}
	}
	a.complete = append(a.complete, tx)
	for _, in := range tx.Inputs {
		a.spent[0][in] = struct{}{}
	}
	return nil
}

// MakeBlock seals the pending transactions into the next block, rotates
// the spent cache, and evicts aggregates whose oldest attestation fell out
// of the window, reporting each eviction.
func (a *Atomizer) MakeBlock() (Block, watchtower.TxErrors) {
	blk := Block{
		Height:       a.bestHeight + 1,
		Transactions: a.complete,
	}

	front := make(map[common.Hash]struct{})
	for i := range a.complete {
		for _, in := range a.complete[i].Inputs {
			front[in] = struct{}{}
		}
	}
	a.spent = append([]map[common.Hash]struct{}{front}, a.spent...)
	if uint64(len(a.spent)) > a.depth+1 {
		a.spent = a.spent[:a.depth+1]
	}

	a.bestHeight++
	a.complete = nil

	var errs watchtower.TxErrors
	for id, agg := range a.partial {
		oldest := uint64(0)
		first := true
		for _, h := range agg.attested {
			if first || h < oldest {
				oldest = h
				first = false
			}
		}
		if a.tooOld(oldest) {
			errs = append(errs, watchtower.TxError{
				TxID: id,
				Code: watchtower.ErrCodeIncomplete,
			})
			delete(a.partial, id)
		}
	}
	if len(errs) > 0 {
		logger.Debug("Evicted incomplete aggregates", "height", a.bestHeight, "count", len(errs))
	}
	return blk, errs
}

// EncodeTo serializes the atomizer state for snapshotting.
func (a *Atomizer) EncodeTo(e *binenc.Encoder) {
	e.WriteUint64(a.bestHeight)
	e.WriteUint64(a.depth)

	e.WriteLen(len(a.complete))
	for i := range a.complete {
		a.complete[i].EncodeTo(e)
	}

	e.WriteLen(len(a.partial))
	for _, agg := range a.partial {
		agg.tx.EncodeTo(e)
		e.WriteLen(len(agg.attested))
		for idx, h := range agg.attested {
			e.WriteUint64(idx)
			e.WriteUint64(h)
		}
	}

	e.WriteLen(len(a.spent))
	for _, set := range a.spent {
		e.WriteLen(len(set))
		for id := range set {
			e.WriteHash(id)
		}
	}
}

// DecodeFrom restores atomizer state from a snapshot.
func (a *Atomizer) DecodeFrom(d *binenc.Decoder) {
	a.bestHeight = d.ReadUint64()
	a.depth = d.ReadUint64()

	n := d.ReadLen()
	if d.Err() != nil {
		return
	}
	a.complete = make([]transaction.CompactTx, n)
	for i := range a.complete {
		a.complete[i].DecodeFrom(d)
	}

	n = d.ReadLen()
	if d.Err() != nil {
		return
	}
	a.partial = make(map[common.Hash]*pendingAggregate, n)
	for i := 0; i < n; i++ {
		agg := &pendingAggregate{}
		agg.tx.DecodeFrom(d)
		m := d.ReadLen()
		if d.Err() != nil {
			return
		}
		agg.attested = make(map[uint64]uint64, m)
		for j := 0; j < m; j++ {
			idx := d.ReadUint64()
			agg.attested[idx] = d.ReadUint64()
		}
		a.partial[agg.tx.ID] = agg
	}

	n = d.ReadLen()
	if d.Err() != nil {
		return
	}
	a.spent = make([]map[common.Hash]struct{}, n)
	for i := range a.spent {
		m := d.ReadLen()
		if d.Err() != nil {
			return
		}
		a.spent[i] = make(map[common.Hash]struct{}, m)
		for j := 0; j < m; j++ {
			a.spent[i][d.ReadHash()] = struct{}{}
		}
	}
}
