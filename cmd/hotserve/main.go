// Command hotserve is a live-reloading static file server for local development.
package main

import (
	"os"

	"github.com/hupe1980/hotserve/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
