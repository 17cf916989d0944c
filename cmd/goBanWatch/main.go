// Package main is the entry point for goBanWatch.
package main

import (
	"fmt"
	"os"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}
