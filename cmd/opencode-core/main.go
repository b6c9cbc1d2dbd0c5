// Command opencode-core is a demo harness for the reconciliation core:
// it replays a newline-delimited stream of wire envelopes through a Core
// and prints the resulting store state, the way a UI layer's debug
// tooling would.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/opencode-core/cmd/opencode-core/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
