package main

import (
	"os"

	"github.com/starkpass/starkpass/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
