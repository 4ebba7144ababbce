package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/discochess/strata/internal/config"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/loader"
)

var statsCmd = &cobra.Command{
	Use:   "stats [PARTITION...]",
	Short: "Show backends, limits and partition sizes",
	Long: `Display the configured backends and the effective concurrency ceiling of
the authoritative store. For each PARTITION given, the number of entries
and their total value size are read from the authoritative store.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func describe(b config.Backend) string {
	switch b.Kind {
	case config.KindBolt, config.KindDisk:
		return fmt.Sprintf("%s (%s)", b.Kind, b.Path)
	case config.KindS3, config.KindGCS:
		return fmt.Sprintf("%s (%s/%s)", b.Kind, b.Bucket, b.Prefix)
	case config.KindDynamoDB:
		return fmt.Sprintf("%s (%s)", b.Kind, b.Table)
	default:
		return b.Kind
	}
}

func runStats(cmd *cobra.Command, args []string) error {
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
	empty, err := c.IsEmpty(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Authoritative:  %s\n", describe(e.cfg.Authoritative))
	fmt.Fprintf(w, "Mirror:         %s\n", describe(e.cfg.Mirror))
	fmt.Fprintf(w, "Points:         %s\n", describe(e.cfg.Points))
	fmt.Fprintf(w, "Point cache:    %s\n", e.cfg.PointCache.Kind)
	fmt.Fprintf(w, "Concurrency:    %d\n", c.MaxConcurrency())
	fmt.Fprintf(w, "Empty:          %t\n", empty)

	for _, name := range args {
		values, err := c.Partition(ctx, key.Name(name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		var size int64
		for _, v := range values.All() {
			size += int64(len(v))
		}
		fmt.Fprintf(w, "\nPartition %s\n", name)
		fmt.Fprintf(w, "  Entries:      %d\n", values.Len())
		fmt.Fprintf(w, "  Value bytes:  %s\n", loader.FormatBytes(size))
	}

	counters := e.memory.Counters()
	if len(counters) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nCounters")
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-44s %d\n", name, counters[name])
	}
	return nil
}
