// Command parley holds realtime voice conversations with an AI character,
// either in the terminal or behind an HTTP control API.
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-parley/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}
