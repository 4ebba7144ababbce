package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/strata/internal/loader"
)

var loadCmd = &cobra.Command{
	Use:   "load SOURCE",
	Short: "Bulk-load JSON Lines records into the authoritative store",
	Long: `Load records from a JSON Lines file or http(s) URL. Each line is an object
with "partition", "key" and "value" fields; string values are stored as
their text and other values as their JSON encoding. Sources ending in .zst
or .gz are decompressed while reading.

Examples:
  strata load users.jsonl
  strata load --partition events events.jsonl.zst
  strata load https://example.com/dump.jsonl.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

var (
	loadPartition string
	loadBatchSize int
	loadWorkers   int
	loadQuiet     bool
)

func init() {
	loadCmd.Flags().StringVar(&loadPartition, "partition", "", "partition for records that carry none")
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", loader.DefaultBatchSize, "entries per write")
	loadCmd.Flags().IntVar(&loadWorkers, "workers", loader.DefaultWorkers, "batches written concurrently")
	loadCmd.Flags().BoolVarP(&loadQuiet, "quiet", "q", false, "suppress progress output")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := e.openClient(ctx)
	if err != nil {
		return err
	}

	opts := []loader.Option{
		loader.WithBatchSize(loadBatchSize),
		loader.WithWorkers(loadWorkers),
		loader.WithPartition(loadPartition),
		loader.WithLogger(e.logger),
	}
	if !loadQuiet {
		opts = append(opts, loader.WithProgress(loader.PrintProgress(cmd.ErrOrStderr())))
	}

	sum, err := loader.New(c, opts...).LoadSource(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d records into %d partitions (%s)\n",
		sum.RecordsWritten, sum.Partitions, loader.FormatDuration(sum.Elapsed))
	return nil
}
