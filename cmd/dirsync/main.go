package main

import (
	"fmt"
	"os"
)

// main is the entry point for the dirsync application.
func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dirsync: %v\n", err)
		os.Exit(1)
	}
}
