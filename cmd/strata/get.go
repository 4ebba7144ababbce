package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/strata/internal/key"
)

var errNotFound = errors.New("key not found")

var getCmd = &cobra.Command{
	Use:   "get PARTITION KEY | get --point NAME",
	Short: "Read a single value",
	Long: `Read the value stored under KEY in PARTITION, or with --point the value
stored under NAME in the point store.

Examples:
  strata get users alice
  strata get --point session-42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func init() {
	getCmd.Flags().BoolVar(&pointMode, "point", false, "read from the point store")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var (
		name  string
		value []byte
		found bool
	)
	if pointMode {
		if len(args) != 1 {
			return fmt.Errorf("get --point takes NAME, got %d arguments", len(args))
		}
		points, err := e.openPoints(ctx)
		if err != nil {
			return err
		}
		name = args[0]
		if value, found, err = points.Get(ctx, key.Name(name)); err != nil {
			return err
		}
	} else {
		if len(args) != 2 {
			return fmt.Errorf("get takes PARTITION KEY, got %d arguments", len(args))
		}
		c, err := e.openClient(ctx)
		if err != nil {
			return err
		}
		name = args[1]
		if value, found, err = c.Get(ctx, key.Name(args[0]), key.NewString(name)); err != nil {
			return err
		}
	}

	if !found {
		return fmt.Errorf("%s: %w", name, errNotFound)
	}
	return printEntries(cmd.OutOrStdout(), []entry{{Key: name, Value: string(value)}})
}
