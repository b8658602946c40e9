package main

import (
	"os"

	"github.com/omnira-ai/analogic/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
