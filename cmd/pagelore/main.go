// Command pagelore is a local question answering tool over ingested web
// pages.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/pagelore/pagelore/internal/adapters/driving/cli"
)

func main() {
	// Best effort: a missing .env file is fine.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
