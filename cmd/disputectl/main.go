package main

import (
	"fmt"
	"os"
)

var version = "dev" // Overwritten at build time

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
