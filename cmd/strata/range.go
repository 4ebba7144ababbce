package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
)

var rangeCmd = &cobra.Command{
	Use:   "range PARTITION",
	Short: "Read the values of a key range",
	Long: `Read the values of PARTITION whose keys fall in [--min, --max]. Either
bound may be left out to read to the start or end of the partition; with
neither the whole partition is read from the authoritative store.

--head and --after page through the partition in key order.

Examples:
  strata range users --min a --max m
  strata range users --min m
  strata range users --head 10
  strata range users --after alice --head 10`,
	Args: cobra.ExactArgs(1),
	RunE: runRange,
}

var (
	rangeMin   string
	rangeMax   string
	rangeHead  int
	rangeAfter string
)

func init() {
	rangeCmd.Flags().StringVar(&rangeMin, "min", "", "smallest key to include")
	rangeCmd.Flags().StringVar(&rangeMax, "max", "", "largest key to include")
	rangeCmd.Flags().IntVar(&rangeHead, "head", 0, "return at most this many entries from the start, or after --after")
	rangeCmd.Flags().StringVar(&rangeAfter, "after", "", "with --head, start after this key")
	rootCmd.AddCommand(rangeCmd)
}

func runRange(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	if flags.Changed("after") && !flags.Changed("head") {
		return errors.New("--after requires --head")
	}

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

	var values *ordered.Map[key.String, []byte]
	switch hasMin, hasMax := flags.Changed("min"), flags.Changed("max"); {
	case flags.Changed("after"):
		values, err = c.NextValues(ctx, p, key.NewString(rangeAfter), rangeHead)
	case flags.Changed("head"):
		values, err = c.HeadValues(ctx, p, rangeHead)
	case hasMin && hasMax:
		values, err = c.ValuesInRange(ctx, p, key.NewString(rangeMin), key.NewString(rangeMax))
	case hasMin:
		values, err = c.ValuesAbove(ctx, p, key.NewString(rangeMin))
	case hasMax:
		values, err = c.ValuesBelow(ctx, p, key.NewString(rangeMax))
	default:
		values, err = c.Partition(ctx, p)
	}
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entriesOf(values))
}
