package main

import (
	"os"

	"TradeLoop/cmd/app/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
