package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/discochess/strata"
	"github.com/discochess/strata/internal/benchstat"
	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/stats"
)

var benchCmd = &cobra.Command{
	Use:   "bench PARTITION",
	Short: "Compare cold and warm range reads",
	Long: `Run the same set of random range reads twice against PARTITION. The first
pass starts with an empty mirror, so each read fetches its range from the
authoritative store; the second pass is served from the mirror. The two
latency samples are summarized and compared as Markdown.

Ranges are drawn between existing keys. Use --populate to write synthetic
keys first.

Examples:
  strata bench users --populate 10000 --queries 500
  strata -c strata.yaml bench events --queries 200 --span 50`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

var (
	benchPopulate int
	benchQueries  int
	benchSpan     int
	benchSeed     uint64
)

func init() {
	benchCmd.Flags().IntVar(&benchPopulate, "populate", 0, "write this many synthetic keys before the benchmark")
	benchCmd.Flags().IntVar(&benchQueries, "queries", 100, "number of range reads per pass")
	benchCmd.Flags().IntVar(&benchSpan, "span", 100, "maximum number of keys covered by one range")
	benchCmd.Flags().Uint64Var(&benchSeed, "seed", 1, "random seed for range selection")
	rootCmd.AddCommand(benchCmd)
}

type span struct{ lo, hi key.String }

func runBench(cmd *cobra.Command, args []string) error {
	if benchQueries <= 0 || benchSpan <= 0 {
		return errors.New("--queries and --span must be positive")
	}
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
	p := key.Name(args[0])

	if benchPopulate > 0 {
		batch := strata.NewMap[key.String, []byte]()
		for i := range benchPopulate {
			batch.Put(key.NewString(fmt.Sprintf("key-%08d", i)), []byte(fmt.Sprintf("value-%d", i)))
		}
		if err := c.PutAll(ctx, p, batch); err != nil {
			return fmt.Errorf("populating %s: %w", p, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d keys to %s\n", batch.Len(), p)
	}

	all, err := c.Partition(ctx, p)
	if err != nil {
		return err
	}
	keys := all.Keys()
	if len(keys) == 0 {
		return fmt.Errorf("partition %s is empty; use --populate", p)
	}

	rng := rand.New(rand.NewPCG(benchSeed, benchSeed))
	spans := make([]span, benchQueries)
	for i := range spans {
		lo := rng.IntN(len(keys))
		hi := min(lo+rng.IntN(benchSpan), len(keys)-1)
		spans[i] = span{keys[lo], keys[hi]}
	}

	cold, err := timeReads(ctx, c, p, spans)
	if err != nil {
		return err
	}
	warm, err := timeReads(ctx, c, p, spans)
	if err != nil {
		return err
	}

	cmp := benchstat.Compare("cold", benchstat.Millis(cold), "warm", benchstat.Millis(warm))
	benchstat.WriteMarkdown(cmd.OutOrStdout(), fmt.Sprintf("Range reads on %s (%d keys)", p, len(keys)), cmp)
	fmt.Fprintf(cmd.OutOrStdout(), "- **Authoritative fetches:** %d\n", e.memory.Counter(stats.MetricAuthoritativeFetches))
	return nil
}

func timeReads(ctx context.Context, c *client, p key.Name, spans []span) ([]time.Duration, error) {
	out := make([]time.Duration, len(spans))
	for i, s := range spans {
		start := time.Now()
		if _, err := c.ValuesInRange(ctx, p, s.lo, s.hi); err != nil {
			return nil, err
		}
		out[i] = time.Since(start)
	}
	return out, nil
}
