package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect [path]",
	Short: "Show which backend handles a repository",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		backend, root := discover(path, newLogger(cfg.Log))
		fmt.Printf("%s\t%s\n", backend.Name(), root)
	},
}
