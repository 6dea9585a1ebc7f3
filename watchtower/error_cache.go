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
	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/networks/conn"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

var logger = log.NewModuleLogger(log.Watchtower)

// ErrorCache is a bounded cache of transaction error reports keyed by
// transaction ID, fed by atomizer error broadcasts. It is never
// authoritative; the least recently pushed or checked entry is evicted
// first.
type ErrorCache struct {
	cache common.Cache
}

// NewErrorCache returns a cache holding at most size reports.
func NewErrorCache(size int) *ErrorCache {
	return &ErrorCache{cache: common.NewCache(size)}
}

// Push records every report in the batch.
func (c *ErrorCache) Push(errs TxErrors) {
	for i := range errs {
		e := errs[i]
		c.cache.Add(e.TxID, &e)
	}
}

// Check returns the recorded report for the transaction, if any.
func (c *ErrorCache) Check(txID common.Hash) (*TxError, bool) {
	v, ok := c.cache.Get(txID)
	if !ok {
		return nil, false
	}
	return v.(*TxError), true
}

// Service listens for atomizer error broadcasts and feeds the cache.
type Service struct {
	cache *ErrorCache
	mgr   *conn.Manager
}

// NewService starts a watchtower listening for error broadcasts on addr.
func NewService(addr string, cacheSize int) (*Service, error) {
	s := &Service{
		cache: NewErrorCache(cacheSize),
		mgr:   conn.NewManager(),
	}
	_, err := s.mgr.StartServer(addr, func(msg conn.Message) []byte {
		var errs TxErrors
		if err := binenc.Unmarshal(msg.Payload, &errs); err != nil {
			logger.Warn("Dropping malformed error broadcast", "peer", msg.Peer, "err", err)
			return nil
		}
		logger.Debug("Received tx errors", "count", len(errs))
		s.cache.Push(errs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Check queries the error cache.
func (s *Service) Check(txID common.Hash) (*TxError, bool) {
	return s.cache.Check(txID)
}

// Close shuts the listener down.
func (s *Service) Close() {
	s.mgr.Close()
}
