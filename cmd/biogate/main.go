package main

import (
	"os"

	"github.com/BrandonDHaskell/biogate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
