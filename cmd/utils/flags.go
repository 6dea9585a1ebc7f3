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

// Package utils holds the flags and helpers shared by the daemon entry
// points.
package utils

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/urfave/cli.v1"

	"github.com/opencbdc/go-cbdc/config"
	"github.com/opencbdc/go-cbdc/log"
	"github.com/opencbdc/go-cbdc/metrics/prometheus"
)

var (
	// ConfigFileFlag points at the shared TOML configuration.
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
		Value: "cbdc.toml",
	}
	// DataDirFlag is the daemon's durable state directory.
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for raft logs and snapshots",
		Value: "data",
	}
	// NodeIDFlag selects this process's index within its cluster.
	NodeIDFlag = cli.IntFlag{
		Name:  "nodeid",
		Usage: "Index of this node within its cluster",
	}
	// ShardIDFlag selects the shard cluster a shard daemon belongs to.
	ShardIDFlag = cli.IntFlag{
		Name:  "shardid",
		Usage: "Index of the shard cluster this node belongs to",
	}
	// LogLevelFlag adjusts global verbosity.
	LogLevelFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (debug, info, warn, error)",
		Value: "info",
	}
	// MetricsEnabledFlag turns on metric collection.
	MetricsEnabledFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and reporting",
	}
	// MetricsAddrFlag is the prometheus exporter listen address.
	MetricsAddrFlag = cli.StringFlag{
		Name:  "metricsaddr",
		Usage: "Prometheus exporter listen address",
		Value: "127.0.0.1:9090",
	}
)

// NewApp returns a cli app with the standard daemon flags.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.Usage = usage
	app.Flags = []cli.Flag{
		ConfigFileFlag,
		DataDirFlag,
		NodeIDFlag,
		LogLevelFlag,
		MetricsEnabledFlag,
		MetricsAddrFlag,
	}
	return app
}

// Setup applies the shared flags: verbosity, metrics exporter, and config
// loading.
func Setup(ctx *cli.Context) (*config.Options, error) {
	switch ctx.GlobalString(LogLevelFlag.Name) {
	case "debug":
		log.ChangeGlobalLogLevel(zapcore.DebugLevel)
	case "info":
		log.ChangeGlobalLogLevel(zapcore.InfoLevel)
	case "warn":
		log.ChangeGlobalLogLevel(zapcore.WarnLevel)
	case "error":
		log.ChangeGlobalLogLevel(zapcore.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity %q", ctx.GlobalString(LogLevelFlag.Name))
	}

	if ctx.GlobalBool(MetricsEnabledFlag.Name) {
		go prometheus.Serve(ctx.GlobalString(MetricsAddrFlag.Name))
	}

	return config.LoadFile(ctx.GlobalString(ConfigFileFlag.Name))
}

// NodeDataDir returns a per-node subdirectory of the daemon data dir.
func NodeDataDir(ctx *cli.Context, component string, id int) string {
	return filepath.Join(ctx.GlobalString(DataDirFlag.Name), fmt.Sprintf("%s-%d", component, id))
}
