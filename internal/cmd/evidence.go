package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/evidence"
	"github.com/Iron-Ham/quorum/internal/logging"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence <work-item> [run-id]",
	Short: "Inspect the evidence trail for a work item",
	Long: `Evidence lists the durable records for a run: one synthesis and one
verdict per completed stage, in pipeline order. Reading a record
re-verifies its content digest, so a clean listing doubles as an
integrity check. With no run id, the latest run is shown.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEvidence,
}

var evidenceRaw bool

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.Flags().BoolVar(&evidenceRaw, "raw", false, "Print full record payloads")
}

func runEvidence(cmd *cobra.Command, args []string) error {
	workItem := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := evidence.NewStore(cfg.Evidence.BaseDir, logging.NopLogger())
	if err != nil {
		return err
	}

	var runID string
	if len(args) == 2 {
		runID = args[1]
	} else {
		runs, err := store.Runs(workItem)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Printf("no evidence recorded for %s\n", workItem)
			return nil
		}
		runID = runs[len(runs)-1]
	}

	records, err := store.Records(workItem, runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cmd.Printf("no records for run %s\n", runID)
		return nil
	}

	cmd.Printf("run %s: %d records, digests verified\n", runID, len(records))
	for _, rec := range records {
		cmd.Printf("  %-10s %-9s %s  %s\n",
			rec.Stage, rec.Kind, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Digest[:12])
		if evidenceRaw {
			cmd.Println(string(rec.Payload))
		}
	}
	return nil
}
