// Package assemble writes the merged shard and its regenerated index.
package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/merge"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// Default output names.
const (
	DefaultShardName = "model.safetensors"
	DefaultIndexName = "model.safetensors.index.json"
)

// Source writes the bytes of one planned tensor.
type Source interface {
	WriteTensor(w io.Writer, e merge.Entry) (int64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(w io.Writer, e merge.Entry) (int64, error)

func (f SourceFunc) WriteTensor(w io.Writer, e merge.Entry) (int64, error) { return f(w, e) }

type Options struct {
	Dir       string
	ShardName string
	IndexName string
}

func (o *Options) defaults() {
	if o.ShardName == "" {
		o.ShardName = DefaultShardName
	}
	if o.IndexName == "" {
		o.IndexName = DefaultIndexName
	}
}

// Result describes what was written.
type Result struct {
	ShardPath string
	IndexPath string
	Tensors   int
	FileSize  int64
}

// Assemble writes the merged shard for plan, streaming each entry from src in
// plan order, then writes the index document. A tensor whose byte count
// differs from its planned range aborts the run since every later offset
// would be wrong.
func Assemble(ctx context.Context, opts Options, plan *merge.Plan, src Source) (res Result, err error) {
	opts.defaults()
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("assemble: create output dir: %w", err)
	}
	header, err := plan.Header()
	if err != nil {
		return Result{}, fmt.Errorf("assemble: encode header: %w", err)
	}

	res.ShardPath = filepath.Join(opts.Dir, opts.ShardName)
	f, err := os.Create(res.ShardPath)
	if err != nil {
		return Result{}, fmt.Errorf("assemble: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("assemble: close %s: %w", res.ShardPath, cerr)
		}
	}()

	w, err := safetensors.NewWriter(f, header)
	if err != nil {
		return Result{}, fmt.Errorf("assemble: write header: %w", err)
	}

	entries := plan.Entries()
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n, err := src.WriteTensor(w, e)
		if err != nil {
			return Result{}, fmt.Errorf("assemble: tensor %s: %w", e.Name(), err)
		}
		if want := e.End - e.Start; n != want || w.DataWritten() != e.End {
			return Result{}, fmt.Errorf("assemble: tensor %s: wrote %d bytes, planned %d", e.Name(), n, want)
		}
		log.Debug("wrote tensor",
			"tensor", e.Name(),
			"action", e.Decision.Action,
			"bytes", n,
			"progress", fmt.Sprintf("%d/%d", i+1, len(entries)),
		)
	}
	if err := w.Finish(); err != nil {
		return Result{}, fmt.Errorf("assemble: flush %s: %w", res.ShardPath, err)
	}
	res.Tensors = len(entries)
	res.FileSize = w.Size()

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	res.IndexPath = filepath.Join(opts.Dir, opts.IndexName)
	if err := WriteIndex(res.IndexPath, opts.ShardName, names, plan.DataSize()); err != nil {
		return Result{}, err
	}

	log.Info("wrote merged shard", "path", res.ShardPath, "tensors", res.Tensors, "bytes", res.FileSize)
	return res, nil
}

type indexDocument struct {
	Metadata  indexMetadata     `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

type indexMetadata struct {
	TotalSize int64 `json:"total_size"`
}

// WriteIndex writes an index document sending every name to shardName.
func WriteIndex(path, shardName string, names []string, totalSize int64) error {
	doc := indexDocument{
		Metadata:  indexMetadata{TotalSize: totalSize},
		WeightMap: make(map[string]string, len(names)),
	}
	for _, name := range names {
		doc.WeightMap[name] = shardName
	}
	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("assemble: encode index: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("assemble: write index: %w", err)
	}
	return nil
}
