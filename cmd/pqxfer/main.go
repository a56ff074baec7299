package main

import (
	"os"

	"github.com/opd-ai/pqxfer/cmd/pqxfer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
