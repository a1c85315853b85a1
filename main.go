package main

import (
	"os"

	"github.com/pyqdeck/pyqdeck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
