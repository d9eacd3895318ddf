package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd is the parent for configuration-inspection subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved actorctl configuration",
}

// configShowCmd prints every dotted key in the CLI's configuration surface
// with the value viper resolved for it (flag, env var, config file, or
// default, in that precedence order).
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := []string{
			"scheduler.policy",
			"scheduler.max-threads",
			"scheduler.max-throughput",
			"idle-timeout.default",
			"registry.await-running-count-equal",
			"log-dir",
		}

		for _, key := range keys {
			fmt.Printf("%-40s %v\n", key, viper.Get(key))
		}

		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
