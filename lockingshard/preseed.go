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

package lockingshard

import (
	"os"

	"github.com/opencbdc/go-cbdc/common"
	"github.com/opencbdc/go-cbdc/ser/binenc"
)

// ReadPreseedFile replaces the shard's empty initial unspent set with the
// deserialized map from the preseed file. Preseeding an already-populated
// shard is not supported; the caller invokes this once at startup.
func (s *LockingShard) ReadPreseedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d := binenc.NewDecoder(f)
	uhs := decodeElementMap(d)
	if err := d.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.unspent = uhs
	s.mu.Unlock()
	logger.Info("Preseeding complete", "utxos", len(uhs))
	return nil
}

// WritePreseedFile writes a UHS map as a preseed file with a single-file
// atomic overwrite.
func WritePreseedFile(path string, uhs map[common.Hash]UHSElement) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	e := binenc.NewEncoder(f)
	encodeElementMap(e, uhs)
	if err := e.Err(); err != nil {
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
