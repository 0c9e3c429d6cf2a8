package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pagelore/pagelore/internal/core/domain"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest an extracted page",
	Long: `Reads an extracted-page JSON payload from a file (or stdin when no
file is given), chunks and embeds the text, and makes it queryable.
Re-ingesting a page replaces its content atomically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	var page domain.ExtractedPage
	if err := json.Unmarshal(data, &page); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	a, err := ensureApp()
	if err != nil {
		return err
	}

	report, err := a.ingestion.Ingest(context.Background(), page)
	if err != nil {
		if errors.Is(err, domain.ErrIngestionInProgress) {
			return fmt.Errorf("ingestion already running for this document, try again later")
		}
		return fmt.Errorf("ingest failed: %w", err)
	}

	cmd.Printf("Ingested %s\n", report.DocumentID)
	cmd.Printf("  Generation: %s\n", report.GenerationID)
	cmd.Printf("  Chunks:     %d (%d embedded, %d reused)\n",
		report.Chunks, report.Embedded, report.Chunks-report.Embedded)
	if report.Summary != "" {
		cmd.Printf("  Summary:    %s\n", report.Summary)
	}
	return nil
}
