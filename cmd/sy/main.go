// Command sy replicates a source directory tree onto a destination
// directory tree with minimal data movement.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nijaru/sy/internal/cliapp"
)

func main() {
	root := cliapp.NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sy:", err)
		os.Exit(1)
	}
}
