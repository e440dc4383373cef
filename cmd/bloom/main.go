package main

import (
	"os"

	"bloom/cmd/bloom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
