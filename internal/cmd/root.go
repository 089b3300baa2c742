package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/quorum/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Multi-agent consensus pipeline orchestrator",
	Long: `Quorum drives a work item through a staged workflow by fanning each
stage out to several reasoning agents, reducing their answers to a
consensus verdict, and recording a durable evidence trail. Conflicting
verdicts always halt for a human; nothing is auto-resolved.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/quorum/config.yaml)")
	rootCmd.PersistentFlags().String("roster", "", "agent roster file (default: built-in roster)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("roster_file", rootCmd.PersistentFlags().Lookup("roster"))
}

func initConfig() {
	config.InitViper()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadRoster resolves the roster from the --roster flag or falls back to
// the built-in stage tables.
func loadRoster() (*config.Roster, string, error) {
	path := viper.GetString("roster_file")
	if path == "" {
		return config.DefaultRoster(), "", nil
	}
	roster, err := config.LoadRoster(path)
	if err != nil {
		return nil, path, err
	}
	return roster, path, nil
}
