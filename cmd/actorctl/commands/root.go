// Package commands implements the actorctl command tree: a thin
// demonstration wrapper around the actor package's scheduler, registry, and
// request-timeout configuration surface.
package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "actorctl",
	Short: "actorctl drives and inspects an actorcore actor system",
	Long: `actorctl is a thin demonstration CLI around the actorcore actor
runtime: it spawns a small actor system using the configured scheduler
policy and thread count, exercises request/response correlation with a
timeout, and reports the resolved configuration.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"config file (default: $HOME/.actorctl.yaml)",
	)

	rootCmd.PersistentFlags().String(
		"scheduler.policy", "sharing",
		"scheduler work distribution policy: sharing or stealing",
	)
	rootCmd.PersistentFlags().Int(
		"scheduler.max-threads", 4,
		"maximum number of scheduler worker threads",
	)
	rootCmd.PersistentFlags().Int(
		"scheduler.max-throughput", 32,
		"maximum messages processed per actor resume before yielding",
	)
	rootCmd.PersistentFlags().Duration(
		"idle-timeout.default", 0,
		"default idle timeout; reported by config show, not applied by run",
	)
	rootCmd.PersistentFlags().String(
		"registry.await-running-count-equal", "",
		"running-actor count at which shutdown may proceed; reported by "+
			"config show, not applied by run",
	)
	rootCmd.PersistentFlags().String(
		"log-dir", "",
		"directory for rotating log files (empty disables file logging)",
	)

	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig reads in config file and ENV variables if set, following the
// dotted-key namespacing (scheduler.policy, scheduler.max-threads, ...)
// documented as the CLI's configuration surface.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".actorctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.SetEnvPrefix("actorctl")
	viper.AutomaticEnv()

	// A missing config file is not an error; flags and environment
	// variables alone are a complete configuration.
	_ = viper.ReadInConfig()
}
