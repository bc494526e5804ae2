package main

import (
	"os"

	"github.com/rustyeddy/vtrader/cmd/vtrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
