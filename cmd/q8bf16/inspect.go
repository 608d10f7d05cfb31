package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/nickhuang99/hugecp/internal/logger"
	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/internal/shard"
)

func inspectCmd() *cli.Command {
	var (
		filter  string
		limit   int
		preview int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "List resolved tensors with their planned conversion",
		ArgsUsage: "<input_dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "filter", Usage: "only show tensors whose name contains this substring", Destination: &filter},
			&cli.IntFlag{Name: "limit", Usage: "max tensors to show (0 = all)", Value: 0, Destination: &limit},
			&cli.IntFlag{Name: "preview", Usage: "leading values to print per tensor", Value: 4, Destination: &preview},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected <input_dir>, got %d arguments", c.Args().Len())
			}
			ctx, err := setup(ctx, c, stderr(c))
			if err != nil {
				return err
			}
			return inspect(ctx, stdout(c), c.Args().First(), inspectOptions{
				filter:  filter,
				limit:   limit,
				preview: preview,
			})
		},
	}
}

type inspectOptions struct {
	filter  string
	limit   int
	preview int
}

func inspect(ctx context.Context, w io.Writer, dir string, opts inspectOptions) error {
	idx, err := shard.Resolve(ctx, shard.Options{Root: dir, IndexName: indexName, Ext: shardExt})
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	m := materialize.New(idx, blockSize, logger.FromContext(ctx))

	var data [][]string
	shown := 0
	for _, name := range idx.Names() {
		if opts.filter != "" && !strings.Contains(name, opts.filter) {
			continue
		}
		if opts.limit > 0 && shown >= opts.limit {
			break
		}
		shown++

		d, _ := idx.Descriptor(name)
		dec := m.Decide(d)
		out := dec.DType
		if dec.Dropped() {
			out = "-"
		}
		values := "-"
		if sf, ok := idx.File(d); ok && opts.preview > 0 {
			if sec, err := sf.Section(d.Info); err == nil {
				values = previewValues(sec, d.Info.DType, opts.preview)
			}
		}
		data = append(data, []string{
			name, d.Shard, d.Info.DType, fmt.Sprint(d.Info.Shape), dec.Action.String(), out, values,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "SHARD", "DTYPE", "SHAPE", "ACTION", "OUT", "VALUES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	_, err = fmt.Fprintf(w, "\n%d shards (%d skipped), %d tensors, %d unresolved\n",
		len(idx.Shards()), len(idx.ScanErrors()), len(idx.Names()), len(idx.Unresolved()))
	return err
}
