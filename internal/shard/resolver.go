// Package shard resolves every tensor of a sharded model to its shard file
// and byte range by combining the top-level index with each shard header.
package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// Default file naming used by Hugging Face sharded checkpoints.
const (
	DefaultIndexName = "model.safetensors.index.json"
	DefaultExt       = ".safetensors"
)

// ScaleSuffix names the inverse-scale companion of a block-quantized weight.
const ScaleSuffix = "_scale_inv"

type Options struct {
	Root string
	// IndexName is the index document inside Root. Defaults to DefaultIndexName.
	IndexName string
	// Ext selects shard files in Root. Defaults to DefaultExt.
	Ext string
}

// IndexDocument is the top-level index: tensor name to shard filename.
type IndexDocument struct {
	Metadata  map[string]any    `json:"metadata,omitempty"`
	WeightMap map[string]string `json:"weight_map"`
}

// ReadIndexDocument loads and decodes an index document.
func ReadIndexDocument(path string) (*IndexDocument, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &MissingIndexError{Path: path, Err: err}
	}
	var doc IndexDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &safetensors.FormatError{Path: path, Err: fmt.Errorf("parse index: %w", err)}
	}
	if doc.WeightMap == nil {
		return nil, &safetensors.FormatError{Path: path, Err: fmt.Errorf("index has no weight_map")}
	}
	return &doc, nil
}

// Resolve builds the Index for opts.Root. Only a missing or malformed index
// document is fatal; unreadable shards and index/shard mismatches are logged
// and recorded on the Index.
func Resolve(ctx context.Context, opts Options) (*Index, error) {
	log := logger.FromContext(ctx)
	if opts.IndexName == "" {
		opts.IndexName = DefaultIndexName
	}
	if opts.Ext == "" {
		opts.Ext = DefaultExt
	}

	doc, err := ReadIndexDocument(filepath.Join(opts.Root, opts.IndexName))
	if err != nil {
		return nil, err
	}

	names, err := discoverShards(opts.Root, opts.Ext)
	if err != nil {
		return nil, fmt.Errorf("shard: scan %s: %w", opts.Root, err)
	}

	idx := &Index{
		root:      opts.Root,
		weightMap: doc.WeightMap,
		files:     make(map[string]*safetensors.File, len(names)),
		tensors:   make(map[string]Descriptor, len(doc.WeightMap)),
		anywhere:  make(map[string]Descriptor),
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			_ = idx.Close()
			return nil, err
		}
		sf, err := safetensors.Open(filepath.Join(opts.Root, name))
		if err != nil {
			perr := &PartialScanError{Shard: name, Err: err}
			idx.scanErrors = append(idx.scanErrors, perr)
			log.Warn("skipping unreadable shard", "shard", name, "error", err)
			continue
		}
		idx.files[name] = sf
		idx.shards = append(idx.shards, name)
		for _, tn := range sf.Header.Names() {
			if prev, dup := idx.anywhere[tn]; dup {
				log.Debug("tensor present in several shards", "tensor", tn, "kept", prev.Shard, "ignored", name)
				continue
			}
			ti, _ := sf.Tensor(tn)
			idx.anywhere[tn] = Descriptor{Name: tn, Shard: name, Info: ti}
		}
		log.Debug("scanned shard", "shard", name, "tensors", len(sf.Header.Tensors), "mmap", sf.Mapped())
	}

	mapped := make([]string, 0, len(doc.WeightMap))
	for tn := range doc.WeightMap {
		mapped = append(mapped, tn)
	}
	sort.Strings(mapped)
	for _, tn := range mapped {
		shardName := doc.WeightMap[tn]
		sf, ok := idx.files[shardName]
		if !ok {
			idx.unresolved = append(idx.unresolved, tn)
			log.Warn("weight map names an unavailable shard; dropping tensor", "tensor", tn, "shard", shardName)
			continue
		}
		ti, ok := sf.Tensor(tn)
		if !ok {
			idx.unresolved = append(idx.unresolved, tn)
			log.Warn("tensor missing from its shard header; dropping tensor", "tensor", tn, "shard", shardName)
			continue
		}
		idx.tensors[tn] = Descriptor{Name: tn, Shard: shardName, Info: ti}
	}

	log.Info("resolved shard index",
		"shards", len(idx.shards),
		"skipped_shards", len(idx.scanErrors),
		"tensors", len(idx.tensors),
		"unresolved", len(idx.unresolved),
	)
	return idx, nil
}

func discoverShards(root, ext string) ([]string, error) {
	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if safetensors.ExtensionMatch(e.Name(), ext) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
