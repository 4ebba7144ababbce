package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags.
	configPath  string
	verbose     bool
	metricsAddr string
	outputJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Range-aware caching in front of slow key-value stores",
	Long: `Strata reads and writes partitioned, ordered key-value data through a
two-level cache. Range reads are answered from a local mirror where the
requested keys are known to be covered, and only the missing pieces are
fetched from the authoritative store.

Backends and caches are chosen in a YAML file passed with --config. Without
one everything is held in memory for the life of the command.

Examples:
  # Write and read back a range
  strata -c strata.yaml put users alice '{"age":31}'
  strata -c strata.yaml range users --min a --max m

  # Compare cold and warm range reads
  strata -c strata.yaml bench users --populate 10000 --queries 500

  # Point reads through the point cache
  strata -c strata.yaml put --point session-42 token
  strata -c strata.yaml get --point session-42`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
}
