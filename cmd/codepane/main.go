// Command codepane serves the browser mini IDE and works with saved projects
// from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/livetemplate/codepane/cmd/codepane/commands"
)

// Version is set during build with -ldflags
var version = "0.1.0-dev"

func main() {
	if err := commands.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
