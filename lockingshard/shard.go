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

// Package lockingshard implements the two-phase-commit shard: per-key
// lock/spend state over the unspent hash set, prepared-dtx bookkeeping,
// the raft state machine replicating it, and the controller wiring the
// shard into its cluster with audit and status services.
package lockingshard

import (
	"sync"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/metrics"
	"github.com/opencbdc/go-cbdc/transaction"
)

var logger = log.NewModuleLogger(log.LockingShard)

var (
	lockRejectCounter = metrics.NewRegisteredCounter("lockingshard/lock/rejected")
	spentGauge        = metrics.NewRegisteredGauge("lockingshard/spent")
	unspentGauge      = metrics.NewRegisteredGauge("lockingshard/unspent")
)

// UHSElement is one unit of value tracked by the shard. In this variant
// the auxiliary data is the plaintext value; DeletionEpoch is set once the
// element is spent.
type UHSElement struct {
	Value         uint64
	CreationEpoch uint64
	DeletionEpoch *uint64
}

// Tx is the shard-side settlement form: the compact transaction, the
// auxiliary values of its outputs (parallel to Tx.Outputs), and the epoch
// assigned by the coordinator.
type Tx struct {
	Tx           transaction.CompactTx
	OutputValues []uint64
	Epoch        uint64
}

type preparedDtx struct {
	txs     []Tx
	results []bool
}

// LockingShard tracks the UHS partition owned by one shard cluster. All
// mutating calls take the write lock; status queries take the read lock.
type LockingShard struct {
	mu sync.RWMutex

	shardRange common.Range

	unspent map[common.Hash]UHSElement
	locked  map[common.Hash]UHSElement
	spent   map[common.Hash]UHSElement

	prepared map[common.Hash]*preparedDtx
	applied  map[common.Hash]struct{}

	completedTxs *common.HashSet

	highestEpoch uint64

	sentinelKeys map[crypto.PublicKey]struct{}
	threshold    int
}

// NewLockingShard returns an empty shard owning the given range.
// completedTxCacheSize bounds the confirmed-transaction cache.
func NewLockingShard(shardRange common.Range, completedTxCacheSize int,
	sentinelKeys map[crypto.PublicKey]struct{}, threshold int) *LockingShard {
	return &LockingShard{
		shardRange:   shardRange,
		unspent:      make(map[common.Hash]UHSElement),
		locked:       make(map[common.Hash]UHSElement),
		spent:        make(map[common.Hash]UHSElement),
		prepared:     make(map[common.Hash]*preparedDtx),
		applied:      make(map[common.Hash]struct{}),
		completedTxs: common.NewHashSet(completedTxCacheSize),
		sentinelKeys: sentinelKeys,
		threshold:    threshold,
	}
}

// Range returns the hash-prefix range this shard owns.
func (s *LockingShard) Range() common.Range { return s.shardRange }

func (s *LockingShard) inRange(h common.Hash) bool {
	return s.shardRange.Contains(h)
}

// LockOutputs attempts to lock the owned inputs of every transaction in
// the batch, returning a per-transaction success vector. The call is
// idempotent: a repeated dtx ID returns the memoized result without
// touching state.
func (s *LockingShard) LockOutputs(dtxID common.Hash, txs []Tx) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.prepared[dtxID]; ok {
		return p.results
	}

	results := make([]bool, len(txs))
	for i := range txs {
		results[i] = s.checkAndLockTx(&txs[i])
		if txs[i].Epoch > s.highestEpoch {
			s.highestEpoch = txs[i].Epoch
		}
	}
	s.prepared[dtxID] = &preparedDtx{txs: txs, results: results}
	return results
}

// checkAndLockTx verifies the attestation threshold and the availability
// of every owned input, then locks them. Either all owned inputs lock or
// none do.
func (s *LockingShard) checkAndLockTx(tx *Tx) bool {
	if !transaction.CheckAttestations(&tx.Tx, s.sentinelKeys, s.threshold) {
		logger.Warn("Received invalid compact transaction", "tx", tx.Tx.ID)
		lockRejectCounter.Inc(1)
		return false
	}
	for _, uhsID := range tx.Tx.Inputs {
		if !s.inRange(uhsID) {
			continue
		}
		if _, ok := s.unspent[uhsID]; !ok {
			lockRejectCounter.Inc(1)
			return false
		}
	}
	for _, uhsID := range tx.Tx.Inputs {
		if !s.inRange(uhsID) {
			continue
		}
		s.locked[uhsID] = s.unspent[uhsID]
		delete(s.unspent, uhsID)
	}
	return true
}

// ApplyOutputs finalizes a prepared dtx with a per-transaction commit
// vector. Committed transactions create their owned outputs and mark
// their owned inputs spent; aborted transactions release their locks. The
// call is idempotent; applying an unknown dtx or a commit vector of the
// wrong length is a protocol violation and fatal.
func (s *LockingShard) ApplyOutputs(dtxID common.Hash, completeTxs []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prepared[dtxID]
	if !ok {
		if _, done := s.applied[dtxID]; !done {
			logger.Crit("Unable to find dtx data for apply", "dtx", dtxID)
		}
		return
	}
	if len(completeTxs) != len(p.txs) {
		// Only reachable through a coordinator bug; continuing would
		// corrupt the UHS.
		logger.Crit("Incorrect number of complete tx flags for apply",
			"dtx", dtxID, "flags", len(completeTxs), "txs", len(p.txs))
	}
	for i := range p.txs {
		s.applyTx(&p.txs[i], completeTxs[i])
	}
	delete(s.prepared, dtxID)
	s.applied[dtxID] = struct{}{}

	unspentGauge.Update(int64(len(s.unspent)))
	spentGauge.Update(int64(len(s.spent)))
}

func (s *LockingShard) applyTx(tx *Tx, complete bool) {
	if complete {
		if s.inRange(tx.Tx.ID) {
			s.completedTxs.Add(tx.Tx.ID)
		}
		for i, uhsID := range tx.Tx.Outputs {
			if !s.inRange(uhsID) {
				continue
			}
			var value uint64
			if i < len(tx.OutputValues) {
				value = tx.OutputValues[i]
			}
			s.unspent[uhsID] = UHSElement{Value: value, CreationEpoch: tx.Epoch}
		}
	}

	for _, uhsID := range tx.Tx.Inputs {
		if !s.inRange(uhsID) {
			continue
		}
		elem, ok := s.locked[uhsID]
		if !ok {
			// The lock attempt for this tx failed; there is nothing to
			// release or spend.
			continue
		}
		if complete {
			epoch := tx.Epoch
			elem.DeletionEpoch = &epoch
			s.spent[uhsID] = elem
		} else {
			s.unspent[uhsID] = elem
		}
		delete(s.locked, uhsID)
	}
}

// DiscardDtx forgets an applied dtx ID. The ID may be reused afterwards.
func (s *LockingShard) DiscardDtx(dtxID common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, dtxID)
}

// CheckUnspent reports whether the UHS ID is currently unspent or locked.
func (s *LockingShard) CheckUnspent(uhsID common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.unspent[uhsID]; ok {
		return true
	}
	_, ok := s.locked[uhsID]
	return ok
}

// CheckTxID reports whether the transaction ID is in the completed cache.
func (s *LockingShard) CheckTxID(txID common.Hash) bool {
	return s.completedTxs.Contains(txID)
}

// HighestEpoch returns the highest epoch observed in a lock request.
func (s *LockingShard) HighestEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestEpoch
}

// Prune drops spent elements deleted before the given epoch.
func (s *LockingShard) Prune(epoch uint64) {
	logger.Info("Running prune", "through", epoch)
	s.mu.Lock()
	defer s.mu.Unlock()
	for uhsID, elem := range s.spent {
		if elem.DeletionEpoch != nil && *elem.DeletionEpoch < epoch {
			delete(s.spent, uhsID)
		}
	}
	spentGauge.Update(int64(len(s.spent)))
}

// GetSummary computes the supply commitment at the given epoch: the sum of
// the values of every element created at or before the epoch and not
// deleted at or before it. The second result is always true. Spent elements
// already removed by Prune are not counted, so a summary at an epoch below
// an earlier prune point omits them.
func (s *LockingShard) GetSummary(epoch uint64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, set := range []map[common.Hash]UHSElement{s.unspent, s.locked, s.spent} {
		for _, elem := range set {
			if elem.CreationEpoch > epoch {
				continue
			}
			if elem.DeletionEpoch != nil && *elem.DeletionEpoch <= epoch {
				continue
			}
			total += elem.Value
		}
	}
	return total, true
}
