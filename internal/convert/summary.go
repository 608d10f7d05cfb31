package convert

import (
	"fmt"
	"io"

	"github.com/nickhuang99/hugecp/internal/assemble"
	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/internal/merge"
)

// Summary counts what a run did with each tensor.
type Summary struct {
	RunID string

	Shards        int
	SkippedShards int
	// Unresolved tensors were named by the index but missing from their shard.
	Unresolved int

	Written       int
	Dequantized   int
	Narrowed      int
	Copied        int
	PassedThrough int
	Dropped       int
	DataSize      int64

	// Output is empty for dry runs.
	Output assemble.Result
}

// Processed is the number of tensors present in the merged shard.
func (s Summary) Processed() int { return s.Written }

// Skipped is the number of index entries absent from the merged shard.
func (s Summary) Skipped() int { return s.Dropped + s.Unresolved }

func (s *Summary) count(p *merge.Plan) {
	for _, e := range p.Entries() {
		s.Written++
		switch e.Decision.Action {
		case materialize.ActionDequantize:
			s.Dequantized++
		case materialize.ActionNarrow:
			s.Narrowed++
		case materialize.ActionCopy:
			s.Copied++
		case materialize.ActionPassThrough:
			s.PassedThrough++
		}
	}
	s.Dropped = len(p.Dropped())
	s.DataSize = p.DataSize()
}

// Report writes a short human-readable summary.
func (s Summary) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"processed %d tensors (dequantized %d, narrowed %d, copied %d, passthrough %d); skipped %d (dropped %d, unresolved %d); shards %d read, %d skipped\n",
		s.Processed(), s.Dequantized, s.Narrowed, s.Copied, s.PassedThrough,
		s.Skipped(), s.Dropped, s.Unresolved, s.Shards, s.SkippedShards,
	)
	return err
}
