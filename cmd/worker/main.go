// Package main is the entry point for the gitpulse one-shot worker CLI.
package main

import (
	"os"

	"github.com/clintrovert/gitpulse/cmd/worker/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
