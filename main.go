// Package main is the entry point for the stratum overlay node.
package main

import (
	"fmt"
	"os"

	"veilnet.io/stratum/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
