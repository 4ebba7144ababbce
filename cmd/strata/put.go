package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/strata/internal/key"
)

var putCmd = &cobra.Command{
	Use:   "put PARTITION KEY VALUE | put --point NAME VALUE",
	Short: "Write a value to the authoritative store",
	Long: `Write a value under KEY in PARTITION. The write goes to the authoritative
store only; cached ranges pick it up after the key is invalidated.

With --point the value is written to the point store under NAME.

Examples:
  strata put users alice '{"age":31}'
  strata put --if-absent users alice '{"age":32}'
  strata put --point session-42 token`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runPut,
}

var (
	pointMode bool
	ifAbsent  bool
)

func init() {
	putCmd.Flags().BoolVar(&pointMode, "point", false, "write to the point store")
	putCmd.Flags().BoolVar(&ifAbsent, "if-absent", false, "only write when the key has no value")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if pointMode {
		if len(args) != 2 {
			return fmt.Errorf("put --point takes NAME VALUE, got %d arguments", len(args))
		}
		points, err := e.openPoints(ctx)
		if err != nil {
			return err
		}
		return points.Put(ctx, key.Name(args[0]), []byte(args[1]))
	}

	if len(args) != 3 {
		return fmt.Errorf("put takes PARTITION KEY VALUE, got %d arguments", len(args))
	}
	c, err := e.openClient(ctx)
	if err != nil {
		return err
	}
	p, k, v := key.Name(args[0]), key.NewString(args[1]), []byte(args[2])

	if !ifAbsent {
		return c.Put(ctx, p, k, v)
	}
	written, err := c.PutIfAbsent(ctx, p, k, v)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already has a value in %s\n", args[1], args[0])
	}
	return nil
}
