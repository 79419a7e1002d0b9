// Command vcsmine mines version control history into a document store.
package main

import (
	"os"

	"github.com/kilupskalvis/vcsmine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
