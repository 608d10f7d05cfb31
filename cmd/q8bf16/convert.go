package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/nickhuang99/hugecp/internal/convert"
)

func convertCmd() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Dequantize and merge input_dir into output_dir",
		ArgsUsage: "<input_dir> <output_dir>",
		Action:    runConvert,
	}
}

func runConvert(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("expected <input_dir> <output_dir>, got %d arguments", cmd.Args().Len())
	}
	ctx, err := setup(ctx, cmd, stderr(cmd))
	if err != nil {
		return err
	}

	out := stdout(cmd)
	sum, err := convert.Run(ctx, convert.Options{
		InputDir:    cmd.Args().Get(0),
		OutputDir:   cmd.Args().Get(1),
		IndexName:   indexName,
		ShardExt:    shardExt,
		OutputShard: outputName,
		OutputIndex: outputIndex,
		BlockSize:   blockSize,
		Jobs:        jobs,
		DryRun:      dryRun,
		DryRunOut:   out,
	})
	if err != nil {
		return err
	}
	// Keep stdout pure JSON for dry runs.
	if dryRun {
		return sum.Report(stderr(cmd))
	}
	if err := sum.Report(out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "wrote %s (%d bytes)\nwrote %s\n", sum.Output.ShardPath, sum.Output.FileSize, sum.Output.IndexPath)
	return err
}
