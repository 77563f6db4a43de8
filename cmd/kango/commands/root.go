package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlcorQi/kango/internal/logger"
)

var cfgFile string

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kango",
	Short: "Kernel log anomaly detection and aggregation",
	Long: `kango watches kernel and system logs for fault signatures: OOM kills,
kernel panics, unexpected reboots, filesystem errors, oops traces and
deadlocks.

Run it three ways:
  kango serve    # central ingest server with API, dashboard stream and alerts
  kango agent    # tail local logs and report findings to a server
  kango scan     # one-shot scan of the local logs, report to stdout or a file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			runVersion(cmd, nil)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "bootstrap config file (default is $HOME/.kango/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "data", "data directory for events, offsets and state")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("patterns", "", "YAML pattern-library override file")
	rootCmd.PersistentFlags().Bool("version", false, "show version information")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("patterns", rootCmd.PersistentFlags().Lookup("patterns"))

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// initConfig reads the bootstrap config file and environment overrides.
// The domain config document (detection, alerts, security) is a separate
// API-writable JSON file under the data directory.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".kango"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("KANGO")
	viper.AutomaticEnv()
	viper.ReadInConfig() // missing file is fine, flags and env suffice
}

func newLogger() logger.Logger {
	return logger.NewLogrusWithLevel(viper.GetString("logging.level"))
}

func dataDir() string {
	return viper.GetString("data_dir")
}

// domainConfigPath is where the mutable config document lives.
func domainConfigPath() string {
	return filepath.Join(dataDir(), "config.json")
}

func patternPath() string {
	return viper.GetString("patterns")
}
