// Package main provides the strata CLI for reading and writing through a
// range-aware cache in front of a configured backing store.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
