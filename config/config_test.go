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

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/crypto"
)

func TestSanitizeClampsInvalid(t *testing.T) {
	o := &Options{TargetBlockInterval: -5}
	o.Sanitize()
	assert.Equal(t, DefaultOptions().TargetBlockInterval, o.TargetBlockInterval)
	assert.Equal(t, DefaultOptions().StxoCacheDepth, o.StxoCacheDepth)
	assert.Equal(t, 250*time.Millisecond, o.BlockInterval())
}

func TestValidateShardRanges(t *testing.T) {
	o := DefaultOptions()
	o.Shards = []ShardCluster{
		{RangeLo: 0, RangeHi: 127},
		{RangeLo: 128, RangeHi: 255},
	}
	assert.NoError(t, o.Validate())

	o.Shards[1].RangeLo = 130
	assert.Error(t, o.Validate())
}

func TestValidateThresholdAgainstKeys(t *testing.T) {
	o := DefaultOptions()
	o.AttestationThreshold = 2
	o.SentinelKeys = []string{}
	assert.Error(t, o.Validate())
}

func TestSentinelKeySet(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := crypto.PubKeyOf(priv)

	o := DefaultOptions()
	o.SentinelKeys = []string{pub.Hex()}
	keys, err := o.SentinelKeySet()
	require.NoError(t, err)
	_, ok := keys[pub]
	assert.True(t, ok)

	o.SentinelKeys = []string{"zz"}
	_, err = o.SentinelKeySet()
	assert.Error(t, err)
}

func TestOwningShards(t *testing.T) {
	o := DefaultOptions()
	o.Shards = []ShardCluster{
		{RangeLo: 0, RangeHi: 127},
		{RangeLo: 128, RangeHi: 255},
	}
	low := common.Hash{0x01}
	high := common.Hash{0xf0}
	assert.Equal(t, []int{0}, o.OwningShards([]common.Hash{low}))
	assert.Equal(t, []int{1}, o.OwningShards([]common.Hash{high}))
	assert.Equal(t, []int{0, 1}, o.OwningShards([]common.Hash{low, high}))
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbdc.toml")
	o := DefaultOptions()
	o.TargetBlockInterval = 500
	o.Atomizers = []Node{{ID: "atomizer0", RaftBind: "127.0.0.1:7000", ClientAddr: "127.0.0.1:7100"}}
	o.Shards = []ShardCluster{{RangeLo: 0, RangeHi: 255,
		Nodes: []Node{{ID: "shard0-0", RaftBind: "127.0.0.1:7200", ClientAddr: "127.0.0.1:7300"}}}}

	require.NoError(t, DumpFile(path, o))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, o.TargetBlockInterval, got.TargetBlockInterval)
	assert.Equal(t, o.Atomizers, got.Atomizers)
	assert.Equal(t, o.Shards[0].Range(), got.Shards[0].Range())
}
