package main

import (
	"github.com/urfave/cli/v3"

	"github.com/nickhuang99/hugecp/internal/assemble"
	"github.com/nickhuang99/hugecp/internal/shard"
	"github.com/nickhuang99/hugecp/pkg/dequant"
)

var (
	configFile  string
	blockSize   int
	jobs        int
	dryRun      bool
	indexName   string
	shardExt    string
	outputName  string
	outputIndex string
	logLevel    string
	logFormat   string
	debug       bool
)

// convertFlags are declared on the root command and inherited by every
// subcommand.
func convertFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/q8bf16/config.yaml)",
			Destination: &configFile,
		},
		&cli.IntFlag{
			Name:        "block-size",
			Usage:       "edge of the square dequantization tile",
			Value:       dequant.DefaultBlockSize,
			Destination: &blockSize,
		},
		&cli.IntFlag{
			Name:        "jobs",
			Aliases:     []string{"j"},
			Usage:       "tensors materialized concurrently ahead of the writer",
			Value:       1,
			Destination: &jobs,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "print the merged header as JSON and write nothing",
			Destination: &dryRun,
		},
		&cli.StringFlag{
			Name:        "index-name",
			Usage:       "index document inside the input directory",
			Value:       shard.DefaultIndexName,
			Destination: &indexName,
		},
		&cli.StringFlag{
			Name:        "shard-ext",
			Usage:       "extension selecting shard files in the input directory",
			Value:       shard.DefaultExt,
			Destination: &shardExt,
		},
		&cli.StringFlag{
			Name:        "output-name",
			Usage:       "file name of the merged shard",
			Value:       assemble.DefaultShardName,
			Destination: &outputName,
		},
		&cli.StringFlag{
			Name:        "output-index",
			Usage:       "file name of the regenerated index",
			Value:       assemble.DefaultIndexName,
			Destination: &outputIndex,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
