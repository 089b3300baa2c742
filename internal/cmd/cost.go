package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/cost"
)

var costCmd = &cobra.Command{
	Use:   "cost <work-item>",
	Short: "Show attributed spend for a work item",
	Args:  cobra.ExactArgs(1),
	RunE:  runCost,
}

var costJSON bool

func init() {
	rootCmd.AddCommand(costCmd)
	costCmd.Flags().BoolVar(&costJSON, "json", false, "Print the raw cost summary document")
}

func runCost(cmd *cobra.Command, args []string) error {
	workItem := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.Evidence.BaseDir, workItem, "cost_summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cmd.Printf("no cost summary recorded for %s\n", workItem)
			return nil
		}
		return err
	}

	if costJSON {
		cmd.Println(string(data))
		return nil
	}

	var summary cost.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return fmt.Errorf("cost summary unreadable: %w", err)
	}

	cmd.Printf("%s: $%.4f across %d calls\n", summary.WorkItem, summary.Total, summary.CallCount)
	if summary.Budget > 0 {
		cmd.Printf("budget: $%.2f (%.0f%% used)\n", summary.Budget, 100*summary.Total/summary.Budget)
	}

	cmd.Println("per stage:")
	for _, k := range sortedKeys(summary.PerStage) {
		cmd.Printf("  %-10s $%.4f\n", k, summary.PerStage[k])
	}
	cmd.Println("per agent:")
	for _, k := range sortedKeys(summary.PerAgent) {
		cmd.Printf("  %-10s $%.4f\n", k, summary.PerAgent[k])
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
