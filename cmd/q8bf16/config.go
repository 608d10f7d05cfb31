package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/nickhuang99/hugecp/internal/logger"
)

// Config represents the optional config file (~/.config/q8bf16/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	BlockSize   *int   `yaml:"block_size"`
	Jobs        *int   `yaml:"jobs"`
	IndexName   string `yaml:"index_name"`
	ShardExt    string `yaml:"shard_ext"`
	OutputName  string `yaml:"output_name"`
	OutputIndex string `yaml:"output_index"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "q8bf16", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config unless required is set.
func LoadConfig(path string, required bool) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig applies config file values to flag variables whose flag was
// not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.BlockSize != nil && !c.IsSet("block-size") {
		blockSize = *cfg.BlockSize
	}
	if cfg.Jobs != nil && !c.IsSet("jobs") {
		jobs = *cfg.Jobs
	}
	if cfg.IndexName != "" && !c.IsSet("index-name") {
		indexName = cfg.IndexName
	}
	if cfg.ShardExt != "" && !c.IsSet("shard-ext") {
		shardExt = cfg.ShardExt
	}
	if cfg.OutputName != "" && !c.IsSet("output-name") {
		outputName = cfg.OutputName
	}
	if cfg.OutputIndex != "" && !c.IsSet("output-index") {
		outputIndex = cfg.OutputIndex
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// setup loads the config file, applies it and stores the configured logger
// in the returned context.
func setup(ctx context.Context, c *cli.Command, stderr io.Writer) (context.Context, error) {
	path, required := configFile, c.IsSet("config")
	if !required {
		path = configPath()
	}
	cfg, err := LoadConfig(path, required)
	if err != nil {
		return ctx, err
	}
	applyConfig(c, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Setup(stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func stdout(c *cli.Command) io.Writer {
	if w := c.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
