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

package raft

import (
	"io"
	"sync"
	"testing"
	"time"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFSM applies entries by recording their payloads.
type countingFSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func (f *countingFSM) Apply(entry *hraft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, entry.Data)
	return len(f.applied)
}

func (f *countingFSM) Snapshot() (hraft.FSMSnapshot, error) { return nil, nil }
func (f *countingFSM) Restore(rc io.ReadCloser) error       { rc.Close(); return nil }

func TestSingleNodeReplication(t *testing.T) {
	fsm := &countingFSM{}
	node, err := NewNode(Config{
		NodeID:           "node0",
		Bind:             "node0",
		Members:          map[string]string{"node0": "node0"},
		HeartbeatTimeout: 50 * time.Millisecond,
		ElectionTimeout:  50 * time.Millisecond,
		InMemory:         true,
	}, fsm)
	require.NoError(t, err)
	defer node.Shutdown()

	require.Eventually(t, node.IsLeader, 10*time.Second, 10*time.Millisecond,
		"single-node cluster did not elect itself")

	res, err := node.Replicate([]byte("entry-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	res, err = node.Replicate([]byte("entry-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	require.NoError(t, node.Barrier())
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("entry-1"), []byte("entry-2")}, fsm.applied)
}
