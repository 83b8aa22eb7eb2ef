// Package main is the entry point for hostmon, a passive per-host traffic monitor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/hostmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
