package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagelore/pagelore/internal/core/ports/driving"
)

var (
	askDocs []string
	askTopK int
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about ingested pages",
	Long: `Retrieves the most relevant ingested content and generates an answer
grounded in it, with citations back to the source text. When nothing
relevant is found the answer says so and no generation happens.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil, "restrict to the given document IDs (repeatable)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "n", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := ensureApp()
	if err != nil {
		return err
	}

	answer, err := a.query.Ask(context.Background(), args[0], driving.AskOptions{
		DocumentIDs: askDocs,
		TopK:        askTopK,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(answer.Text)
	if len(answer.Citations) > 0 {
		cmd.Println("\nSources:")
		for i, c := range answer.Citations {
			cmd.Printf("  [%d] %s chunk %d (chars %d-%d)\n",
				i+1, c.DocumentID, c.Ordinal, c.StartOffset, c.EndOffset)
		}
	}
	return nil
}
