package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/consensus"
	"github.com/Iron-Ham/quorum/internal/evidence"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/stage"
)

var statusCmd = &cobra.Command{
	Use:   "status <work-item>",
	Short: "Show run progress for a work item",
	Long: `Status lists every run recorded for a work item with the stages each
run has completed and how every stage was decided. The report is read
entirely from the evidence store, so it works for live and finished
runs alike.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	workItem := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := evidence.NewStore(cfg.Evidence.BaseDir, logging.NopLogger())
	if err != nil {
		return err
	}

	runs, err := store.Runs(workItem)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Printf("no runs recorded for %s\n", workItem)
		return nil
	}

	for _, runID := range runs {
		cmd.Printf("run %s\n", runID)
		recorded := store.RecordedStages(workItem, runID)
		done := make(map[stage.Stage]bool, len(recorded))
		for _, st := range recorded {
			done[st] = true
		}

		for _, st := range stage.All() {
			if !done[st] {
				cmd.Printf("  %-10s pending\n", st)
				continue
			}

			var v consensus.Verdict
			if err := store.Unmarshal(workItem, runID, st, evidence.KindVerdict, &v); err != nil {
				cmd.Printf("  %-10s in progress (synthesis only)\n", st)
				continue
			}
			cmd.Printf("  %-10s %s\n", st, describeVerdict(&v))
		}
	}
	return nil
}

func describeVerdict(v *consensus.Verdict) string {
	desc := string(v.Outcome)
	if v.Accepted {
		desc += ", accepted"
	} else {
		desc += ", halted"
	}
	if v.Flagged {
		desc += ", flagged"
	}
	if v.Degraded {
		desc += fmt.Sprintf(", degraded (missing %d)", len(v.Missing))
	}
	return desc
}
