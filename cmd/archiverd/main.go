// Copyright 2023 The go-cbdc Authors
// This file is part of go-cbdc.
//
// go-cbdc is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-cbdc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-cbdc. If not, see <http://www.gnu.org/licenses/>.

// archiverd persists the atomizer block stream and serves historical
// blocks, optionally republishing them to Kafka.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/archiver"
	"github.com/opencbdc/go-cbdc/cmd/utils"
	"github.com/opencbdc/go-cbdc/datasync/blockfeed"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/storage/database"
)

var logger = log.NewModuleLogger(log.CMDArchiver)

const blockReadCacheSize = 256

func main() {
	app := utils.NewApp("The block archiver daemon")
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	opts, err := utils.Setup(ctx)
	if err != nil {
		return err
	}

	dbType := database.DBType(opts.Archiver.DBType)
	if dbType == "" {
		dbType = database.LevelDB
	}
	db, err := database.New(dbType, opts.Archiver.DBPath)
	if err != nil {
		return err
	}
	store := archiver.NewStore(db, blockReadCacheSize)

	var sinks []archiver.BlockSink
	var feed *blockfeed.Feed
	if opts.Kafka.Enabled {
		cfg := blockfeed.GetDefaultConfig(opts.Kafka.Brokers)
		if opts.Kafka.Topic != "" {
			cfg.Topic = opts.Kafka.Topic
		}
		feed, err = blockfeed.NewFeed(cfg)
		if err != nil {
			db.Close()
			return err
		}
		sinks = append(sinks, feed)
	}

	var atomizerAddrs []string
	for _, n := range opts.Atomizers {
		atomizerAddrs = append(atomizerAddrs, n.ClientAddr)
	}
	svc, err := archiver.NewService(store, atomizerAddrs, opts.Archiver.ClientAddr, sinks)
	if err != nil {
		if feed != nil {
			feed.Close()
		}
		db.Close()
		return err
	}
	logger.Info("Archiver started", "db", dbType, "addr", opts.Archiver.ClientAddr)

	waitForSignal()

	svc.Close()
	if feed != nil {
		feed.Close()
	}
	db.Close()
	return nil
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
}
