package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/quorum/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and roster",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	roster, path, err := loadRoster()
	if err != nil {
		return fmt.Errorf("roster invalid: %w", err)
	}
	if issues := roster.Validate(); len(issues) > 0 {
		return fmt.Errorf("roster invalid: %w", config.ValidationErrors(issues))
	}

	cmd.Printf("config ok (invoker mode %q, quality gates %v)\n", cfg.Invoker.Mode, cfg.Quality.Enabled)
	if path == "" {
		cmd.Println("roster ok (built-in)")
	} else {
		cmd.Printf("roster ok (%s)\n", path)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return err
	}
	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	cmd.Print(string(out))
	return nil
}
