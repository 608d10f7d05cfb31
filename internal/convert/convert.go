// Package convert runs the dequantize-and-merge pipeline: resolve the sharded
// input, classify every tensor, lay out the merged shard and write it.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nickhuang99/hugecp/internal/assemble"
	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/internal/merge"
	"github.com/nickhuang99/hugecp/internal/shard"
	"github.com/nickhuang99/hugecp/pkg/dequant"
)

type Options struct {
	InputDir  string
	OutputDir string

	// IndexName and ShardExt locate the input; defaults follow shard.
	IndexName string
	ShardExt  string

	// OutputShard and OutputIndex name the files written to OutputDir;
	// defaults follow assemble.
	OutputShard string
	OutputIndex string

	// BlockSize is the dequantization tile edge. 0 selects 128.
	BlockSize int

	// Jobs > 1 materializes up to Jobs tensors concurrently ahead of the
	// writer. Output is identical for every value.
	Jobs int

	// DryRun plans the merge and prints the merged header to DryRunOut
	// without writing files.
	DryRun    bool
	DryRunOut io.Writer
}

// Run executes one conversion. Only fatal conditions return an error:
// missing or malformed index, unwritable output, or a tensor stream that
// disagrees with the plan. Everything skipped is counted in the Summary.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.InputDir == "" {
		return Summary{}, errors.New("convert: input directory required")
	}
	if opts.OutputDir == "" && !opts.DryRun {
		return Summary{}, errors.New("convert: output directory required")
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = dequant.DefaultBlockSize
	}
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}

	sum := Summary{RunID: uuid.NewString()}
	log := logger.FromContext(ctx).With("run", sum.RunID)
	ctx = logger.WithContext(ctx, log)

	idx, err := shard.Resolve(ctx, shard.Options{
		Root:      opts.InputDir,
		IndexName: opts.IndexName,
		Ext:       opts.ShardExt,
	})
	if err != nil {
		return sum, err
	}
	defer func() { _ = idx.Close() }()

	sum.Shards = len(idx.Shards())
	sum.SkippedShards = len(idx.ScanErrors())
	sum.Unresolved = len(idx.Unresolved())

	m := materialize.New(idx, opts.BlockSize, log)
	names := idx.Names()
	decisions := make([]materialize.Decision, 0, len(names))
	for _, name := range names {
		d, _ := idx.Descriptor(name)
		decisions = append(decisions, m.Decide(d))
	}

	plan, err := merge.Build(decisions)
	if err != nil {
		return sum, err
	}
	sum.count(plan)

	if opts.DryRun {
		out := opts.DryRunOut
		if out == nil {
			out = io.Discard
		}
		if err := printHeader(out, plan); err != nil {
			return sum, err
		}
		log.Info("dry run complete; nothing written", "tensors", sum.Written, "dropped", sum.Dropped)
		return sum, nil
	}

	if err := checkOutputCollision(idx, opts); err != nil {
		return sum, err
	}

	var src assemble.Source = streamSource{m: m}
	var pf *prefetchSource
	if opts.Jobs > 1 {
		pf = newPrefetchSource(ctx, m, plan.Entries(), opts.Jobs)
		src = pf
	}
	res, err := assemble.Assemble(ctx, assemble.Options{
		Dir:       opts.OutputDir,
		ShardName: opts.OutputShard,
		IndexName: opts.OutputIndex,
	}, plan, src)
	if pf != nil {
		if cerr := pf.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return sum, err
	}
	sum.Output = res

	log.Info("conversion complete",
		"written", sum.Written,
		"dequantized", sum.Dequantized,
		"narrowed", sum.Narrowed,
		"copied", sum.Copied,
		"passthrough", sum.PassedThrough,
		"dropped", sum.Dropped,
		"unresolved", sum.Unresolved,
		"skipped_shards", sum.SkippedShards,
	)
	return sum, nil
}

func printHeader(w io.Writer, plan *merge.Plan) error {
	raw, err := plan.Header()
	if err != nil {
		return fmt.Errorf("convert: encode header: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return fmt.Errorf("convert: indent header: %w", err)
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}

// checkOutputCollision refuses to overwrite an input shard or the input index.
func checkOutputCollision(idx *shard.Index, opts Options) error {
	outShard, outIndex := opts.OutputShard, opts.OutputIndex
	if outShard == "" {
		outShard = assemble.DefaultShardName
	}
	if outIndex == "" {
		outIndex = assemble.DefaultIndexName
	}
	inIndex := opts.IndexName
	if inIndex == "" {
		inIndex = shard.DefaultIndexName
	}

	inputs := make(map[string]string, len(idx.Shards())+1)
	for _, s := range append(idx.Shards(), inIndex) {
		p, err := filepath.Abs(filepath.Join(idx.Root(), s))
		if err != nil {
			return err
		}
		inputs[p] = s
	}
	for _, name := range []string{outShard, outIndex} {
		out, err := filepath.Abs(filepath.Join(opts.OutputDir, name))
		if err != nil {
			return err
		}
		if in, ok := inputs[out]; ok {
			return fmt.Errorf("convert: output %s would overwrite input %s", out, in)
		}
	}
	return nil
}
