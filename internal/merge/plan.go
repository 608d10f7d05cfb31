// Package merge assigns contiguous offsets in the merged shard and builds
// its header.
package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/pkg/safetensors"
)

// FormatMarker is the __metadata__ value of merged shards.
var FormatMarker = map[string]string{"format": "pt"}

// Entry is one tensor of the merged shard. Start and End are relative to its
// data section.
type Entry struct {
	Decision materialize.Decision
	Start    int64
	End      int64
}

func (e Entry) Name() string { return e.Decision.Name }

// Plan is the finalized layout of the merged shard. Entries are in ascending
// name order, which is also the order their bytes must be written in.
type Plan struct {
	entries []Entry
	dropped []materialize.Decision
	size    int64
}

// Build sorts decisions by name, skips dropped tensors and lays the rest out
// back to back starting at offset 0.
func Build(decisions []materialize.Decision) (*Plan, error) {
	sorted := slices.Clone(decisions)
	slices.SortStableFunc(sorted, func(a, b materialize.Decision) int {
		return strings.Compare(a.Name, b.Name)
	})

	p := &Plan{entries: make([]Entry, 0, len(sorted))}
	var offset int64
	for i, dec := range sorted {
		if i > 0 && sorted[i-1].Name == dec.Name {
			return nil, fmt.Errorf("merge: duplicate tensor %q", dec.Name)
		}
		if dec.Name == safetensors.MetadataKey {
			return nil, fmt.Errorf("merge: tensor name %q is reserved", dec.Name)
		}
		if dec.Dropped() {
			p.dropped = append(p.dropped, dec)
			continue
		}
		if dec.Size <= 0 {
			return nil, fmt.Errorf("merge: tensor %q has non-positive size %d", dec.Name, dec.Size)
		}
		p.entries = append(p.entries, Entry{Decision: dec, Start: offset, End: offset + dec.Size})
		offset += dec.Size
	}
	p.size = offset
	return p, nil
}

// Entries returns the laid-out tensors in write order.
func (p *Plan) Entries() []Entry { return slices.Clone(p.entries) }

// Dropped returns the decisions that received no entry.
func (p *Plan) Dropped() []materialize.Decision { return slices.Clone(p.dropped) }

// DataSize is the total byte length of the merged data section.
func (p *Plan) DataSize() int64 { return p.size }

// Tensors returns the header view of the plan.
func (p *Plan) Tensors() map[string]safetensors.TensorInfo {
	out := make(map[string]safetensors.TensorInfo, len(p.entries))
	for _, e := range p.entries {
		out[e.Name()] = safetensors.TensorInfo{
			DType: e.Decision.DType,
			Shape: e.Decision.Shape,
			Start: e.Start,
			End:   e.End,
		}
	}
	return out
}

// Header encodes the merged shard header including the format marker.
func (p *Plan) Header() ([]byte, error) {
	return safetensors.EncodeHeader(p.Tensors(), FormatMarker)
}
