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

package rpc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbdc/go-cbdc/networks/conn"
)

func TestBlockingCall(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(_ conn.PeerID, body []byte) ([]byte, error) {
		return append([]byte("pong:"), body...), nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr())
	defer client.Close()

	reply, err := client.Call([]byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong:ping"), reply)
}

func TestConcurrentCallsDemultiplex(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(_ conn.PeerID, body []byte) ([]byte, error) {
		// Reverse so replies are distinguishable per request.
		out := make([]byte, len(body))
		for i, b := range body {
			out[len(body)-1-i] = b
		}
		return out, nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr())
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i), byte(i + 1), byte(i + 2)}
			reply, err := client.Call(payload, 2*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(i + 2), byte(i + 1), byte(i)}, reply)
		}(i)
	}
	wg.Wait()
}

func TestCallTimeout(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(_ conn.PeerID, body []byte) ([]byte, error) {
		return nil, ErrTimeout // drop every request
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr())
	defer client.Close()

	_, err = client.Call([]byte("ping"), 100*time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
}

func TestAsyncServerRepliesOutOfBand(t *testing.T) {
	srv, err := NewAsyncServer("127.0.0.1:0", func(_ conn.PeerID, body []byte, respond func([]byte)) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			respond(append([]byte("later:"), body...))
		}()
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr())
	defer client.Close()

	reply, err := client.Call([]byte("work"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("later:work"), reply)
}

func TestCallAsyncCallback(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(_ conn.PeerID, body []byte) ([]byte, error) {
		return body, nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr())
	defer client.Close()

	ch := make(chan []byte, 1)
	require.NoError(t, client.CallAsync([]byte("abc"), func(body []byte, err error) {
		assert.NoError(t, err)
		ch <- body
	}))
	select {
	case body := <-ch:
		assert.Equal(t, []byte("abc"), body)
	case <-time.After(time.Second):
		t.Fatal("async callback not invoked")
	}
}

func TestCallFailsWhenServerUnreachable(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	defer client.Close()
	_, err := client.Call([]byte("ping"), 100*time.Millisecond)
	assert.Error(t, err)
}
