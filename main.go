package main

import (
	"os"

	"github.com/beaconsec/identra/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
