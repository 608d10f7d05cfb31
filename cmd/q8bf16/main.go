package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := rootCmd().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:      "q8bf16",
		Usage:     "Dequantize a sharded FP8 checkpoint and merge it into one BF16 safetensors file",
		ArgsUsage: "<input_dir> <output_dir>",
		Flags:     append(convertFlags(), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return cli.ShowAppHelp(cmd)
			}
			return runConvert(ctx, cmd)
		},
		Commands: []*cli.Command{
			convertCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}
}
