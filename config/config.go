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

// Package config holds the cluster topology and tuning options shared by
// every daemon, with TOML load/save.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
	"github.com/opencbdc/go-cbdc/log"
)

var logger = log.NewModuleLogger(log.Config)

// Node describes one member of a replicated cluster.
type Node struct {
	ID         string
	RaftBind   string
	ClientAddr string
}

// ShardCluster describes one locking-shard raft cluster and the hash-prefix
// range it owns.
type ShardCluster struct {
	RangeLo       uint8
	RangeHi       uint8
	Nodes         []Node
	ReadOnlyAddrs []string
	AuditLog      string
	PreseedFile   string
}

// Range returns the cluster's ownership range.
func (s *ShardCluster) Range() common.Range {
	return common.Range{Lo: s.RangeLo, Hi: s.RangeHi}
}

// KafkaOptions configures the optional block feed producer.
type KafkaOptions struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// ArchiverOptions configures the block archiver daemon.
type ArchiverOptions struct {
	ClientAddr string
	DBPath     string
	DBType     string // "leveldb" or "badger"
}

// Options is the full configuration shared by the daemons.
type Options struct {
	// Settlement parameters.
	AttestationThreshold int
	SentinelKeys         []string // hex-encoded x-only public keys
	StxoCacheDepth       uint64
	TargetBlockInterval  int // milliseconds
	BatchDelay           int // milliseconds, complete-tx batch send delay
	BlockCacheSize       int
	CompletedTxCacheSize int
	AuditInterval        uint64 // epochs between supply audits

	// Topology.
	Atomizers       []Node
	WatchtowerAddrs []string
	Coordinators    []Node
	Sentinels       []Node
	Shards          []ShardCluster

	Archiver ArchiverOptions
	Kafka    KafkaOptions
}

// DefaultOptions returns an Options populated with workable defaults for a
// single-node deployment.
func DefaultOptions() *Options {
	return &Options{
		AttestationThreshold: 0,
		StxoCacheDepth:       2,
		TargetBlockInterval:  250,
		BatchDelay:           20,
		BlockCacheSize:       1024,
		CompletedTxCacheSize: 100000,
		AuditInterval:        100,
	}
}

// Sanitize clamps unreasonable values, logging each adjustment.
func (o *Options) Sanitize() {
	def := DefaultOptions()
	if o.TargetBlockInterval <= 0 {
		logger.Error("Sanitizing invalid block interval", "provided", o.TargetBlockInterval, "updated", def.TargetBlockInterval)
		o.TargetBlockInterval = def.TargetBlockInterval
	}
	if o.BatchDelay <= 0 {
		logger.Error("Sanitizing invalid batch delay", "provided", o.BatchDelay, "updated", def.BatchDelay)
		o.BatchDelay = def.BatchDelay
	}
	if o.StxoCacheDepth == 0 {
		logger.Error("Sanitizing invalid spent-cache depth", "updated", def.StxoCacheDepth)
		o.StxoCacheDepth = def.StxoCacheDepth
	}
	if o.BlockCacheSize <= 0 {
		logger.Error("Sanitizing invalid block cache size", "provided", o.BlockCacheSize, "updated", def.BlockCacheSize)
		o.BlockCacheSize = def.BlockCacheSize
	}
	if o.CompletedTxCacheSize <= 0 {
		logger.Error("Sanitizing invalid completed-tx cache size", "provided", o.CompletedTxCacheSize, "updated", def.CompletedTxCacheSize)
		o.CompletedTxCacheSize = def.CompletedTxCacheSize
	}
}

// Validate checks cross-field consistency that Sanitize cannot repair.
func (o *Options) Validate() error {
	if len(o.Shards) > 0 {
		ranges := make([]common.Range, len(o.Shards))
		for i := range o.Shards {
			ranges[i] = o.Shards[i].Range()
		}
		if !common.ValidRangePartition(ranges) {
			return errors.New("shard ranges do not partition the prefix space")
		}
	}
	if o.AttestationThreshold > len(o.SentinelKeys) {
		return fmt.Errorf("attestation threshold %d exceeds known sentinel keys %d",
			o.AttestationThreshold, len(o.SentinelKeys))
	}
	return nil
}

// BlockInterval returns the block cadence as a duration.
func (o *Options) BlockInterval() time.Duration {
	return time.Duration(o.TargetBlockInterval) * time.Millisecond
}

// BatchSendDelay returns the complete-tx batch delay as a duration.
func (o *Options) BatchSendDelay() time.Duration {
	return time.Duration(o.BatchDelay) * time.Millisecond
}

// SentinelKeySet parses the configured sentinel keys into a lookup set.
func (o *Options) SentinelKeySet() (map[crypto.PublicKey]struct{}, error) {
	keys := make(map[crypto.PublicKey]struct{}, len(o.SentinelKeys))
	for _, s := range o.SentinelKeys {
		pk, err := crypto.ParsePublicKeyHex(s)
		if err != nil {
			return nil, fmt.Errorf("sentinel key %q: %w", s, err)
		}
		keys[pk] = struct{}{}
	}
	return keys, nil
}

// OwningShards returns the indices of the shard clusters owning any of the
// given hashes.
func (o *Options) OwningShards(hashes []common.Hash) []int {
	var out []int
	for i := range o.Shards {
		r := o.Shards[i].Range()
		for _, h := range hashes {
			if r.Contains(h) {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// LoadFile reads a TOML configuration file, applying defaults for missing
// fields and sanitizing the result.
func LoadFile(path string) (*Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	opts := DefaultOptions()
	if err := toml.NewDecoder(f).Decode(opts); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	opts.Sanitize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// DumpFile writes the options as TOML with a single-file atomic overwrite.
func DumpFile(path string, o *Options) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(o); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
