package main

import (
	"os"

	"github.com/jwlim/coinpilot/cmd/coinpilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
