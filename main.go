package main

import (
	"os"

	"github.com/igorsilveira/relay/cmd/relay"
)

func main() {
	if err := relay.Execute(); err != nil {
		os.Exit(1)
	}
}
