package main

import (
	"os"

	"github.com/mzaremba/driftwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
