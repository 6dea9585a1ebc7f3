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

package watchtower

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

func TestTxErrorsRoundTrip(t *testing.T) {
	errs := TxErrors{
		{TxID: common.RandomHash(), Code: ErrCodeIncomplete},
		{TxID: common.RandomHash(), Code: ErrCodeInputsSpent, SpentInputs: []common.Hash{common.RandomHash()}},
		{TxID: common.RandomHash(), Code: ErrCodeStxoRange},
	}
	buf, err := binenc.Marshal(errs)
	require.NoError(t, err)
	var got TxErrors
	require.NoError(t, binenc.Unmarshal(buf, &got))
	assert.Equal(t, errs, got)
}

func TestErrorCacheEviction(t *testing.T) {
	c := NewErrorCache(2)
	e1 := TxError{TxID: common.RandomHash(), Code: ErrCodeIncomplete}
	e2 := TxError{TxID: common.RandomHash(), Code: ErrCodeStxoRange}
	e3 := TxError{TxID: common.RandomHash(), Code: ErrCodeInputsSpent}
	c.Push(TxErrors{e1, e2})

	got, ok := c.Check(e1.TxID)
	require.True(t, ok)
	assert.Equal(t, ErrCodeIncomplete, got.Code)

	// The cache is full; inserting a third report evicts the least
	// recently touched entry.
	c.Push(TxErrors{e3})
	_, ok = c.Check(e2.TxID)
	assert.False(t, ok)
	_, ok = c.Check(e1.TxID)
	assert.True(t, ok)
	_, ok = c.Check(e3.TxID)
	assert.True(t, ok)
}

func TestServiceReceivesBroadcasts(t *testing.T) {
	svc, err := NewService("127.0.0.1:0", 16)
	require.NoError(t, err)
	defer svc.Close()

	errs := TxErrors{{TxID: common.RandomHash(), Code: ErrCodeInputsSpent,
		SpentInputs: []common.Hash{common.RandomHash()}}}
	payload, err := binenc.Marshal(errs)
	require.NoError(t, err)

	client := conn.NewManager()
	defer client.Close()
	require.NoError(t, client.ClusterConnect([]string{svc.mgr.Addr()}, true))
	client.Broadcast(payload)

	require.Eventually(t, func() bool {
		_, ok := svc.Check(errs[0].TxID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := svc.Check(errs[0].TxID)
	assert.Equal(t, ErrCodeInputsSpent, got.Code)
}
