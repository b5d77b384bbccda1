package main

import (
	"os"

	"github.com/austindbirch/mooring/cmd/moorctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
