package shard

import (
	"sort"

	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// Descriptor locates one tensor: its shard and its header entry.
type Descriptor struct {
	Name  string
	Shard string
	Info  safetensors.TensorInfo
}

// Index is the resolved view of a sharded model. It is read-only once
// Resolve returns and keeps the shard files open until Close.
type Index struct {
	root       string
	weightMap  map[string]string
	shards     []string
	files      map[string]*safetensors.File
	tensors    map[string]Descriptor
	anywhere   map[string]Descriptor
	scanErrors []error
	unresolved []string
}

// Root returns the model directory.
func (idx *Index) Root() string { return idx.root }

// Names returns the resolved weight-map tensor names in ascending order.
func (idx *Index) Names() []string {
	out := make([]string, 0, len(idx.tensors))
	for name := range idx.tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Descriptor returns the resolved entry for a weight-map tensor.
func (idx *Index) Descriptor(name string) (Descriptor, bool) {
	d, ok := idx.tensors[name]
	return d, ok
}

// Scale returns the inverse-scale tensor associated with weight. The
// weight-map entry wins; otherwise any scanned shard header may supply it.
func (idx *Index) Scale(weight string) (Descriptor, bool) {
	name := weight + ScaleSuffix
	if d, ok := idx.tensors[name]; ok {
		return d, true
	}
	d, ok := idx.anywhere[name]
	return d, ok
}

// ShardOf returns the shard the index document assigns to name.
func (idx *Index) ShardOf(name string) (string, bool) {
	s, ok := idx.weightMap[name]
	return s, ok
}

// File returns the open shard for d.
func (idx *Index) File(d Descriptor) (*safetensors.File, bool) {
	f, ok := idx.files[d.Shard]
	return f, ok
}

// Shards returns the successfully scanned shard filenames in scan order.
func (idx *Index) Shards() []string {
	return append([]string(nil), idx.shards...)
}

// ScanErrors returns one *PartialScanError per skipped shard.
func (idx *Index) ScanErrors() []error {
	return append([]error(nil), idx.scanErrors...)
}

// Unresolved returns weight-map names dropped because their shard or header
// entry was missing.
func (idx *Index) Unresolved() []string {
	return append([]string(nil), idx.unresolved...)
}

// Close releases every open shard.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	var first error
	for _, f := range idx.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
