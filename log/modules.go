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

package log

// ModuleID identifies the component a logger belongs to.
type ModuleID int

const (
	Common ModuleID = iota
	Binenc
	Transaction
	Crypto
	Config
	Raft
	Atomizer
	LockingShard
	Coordinator
	Sentinel
	Watchtower
	Archiver
	NetworksConn
	NetworksRPC
	StorageDatabase
	Datasync
	CMDAtomizer
	CMDShard
	CMDCoordinator
	CMDSentinel
	CMDArchiver
)

var moduleNames = [...]string{
	Common:          "common",
	Binenc:          "binenc",
	Transaction:     "transaction",
	Crypto:          "crypto",
	Config:          "config",
	Raft:            "raft",
	Atomizer:        "atomizer",
	LockingShard:    "lockingshard",
	Coordinator:     "coordinator",
	Sentinel:        "sentinel",
	Watchtower:      "watchtower",
	Archiver:        "archiver",
	NetworksConn:    "networks/conn",
	NetworksRPC:     "networks/rpc",
	StorageDatabase: "storage/database",
	Datasync:        "datasync",
	CMDAtomizer:     "cmd/atomizerd",
	CMDShard:        "cmd/shardd",
	CMDCoordinator:  "cmd/coordinatord",
	CMDSentinel:     "cmd/sentineld",
	CMDArchiver:     "cmd/archiverd",
}

func (mi ModuleID) String() string {
	if int(mi) < len(moduleNames) && moduleNames[mi] != "" {
		return moduleNames[mi]
	}
	return "unknown"
}
