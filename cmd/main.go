package main

// Entry point: runs the Cobra root command and maps errors to exit status 1.

import (
	"fmt"
	"os"

	"nft-sales-monitor/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
