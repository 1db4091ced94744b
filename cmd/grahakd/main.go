package main

import (
	"os"

	"github.com/grahak-ai/grahak/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
