package linecook

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linecook-ai/linecook/pkg/domain"
)

var (
	querySpeech     bool
	queryMaxResults int
)

var queryCmd = &cobra.Command{
	Use:   "query \"<question>\"",
	Short: "Ask a question against the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		resp, err := comps.retriever.Query(cmd.Context(), domain.QueryRequest{
			Text:       args[0],
			MaxResults: queryMaxResults,
			Speech:     querySpeech,
		})
		if err != nil {
			return err
		}

		printResponse(resp)
		return nil
	},
}

func printResponse(resp domain.ComposedResponse) {
	fmt.Printf("%s\n", resp.TaskTitle)
	fmt.Printf("type: %s  confidence: %.2f  time: %s\n", resp.ProcedureType, resp.Confidence, resp.EstimatedTime)

	if len(resp.SafetyWarnings) > 0 {
		fmt.Println("\nSafety:")
		for _, w := range resp.SafetyWarnings {
			fmt.Printf("  [%s] %s\n", w.Severity, w.Text)
		}
	}

	if len(resp.EquipmentNeeded) > 0 {
		fmt.Printf("\nEquipment: %s\n", strings.Join(resp.EquipmentNeeded, ", "))
	}

	if len(resp.Steps) > 0 {
		fmt.Println("\nSteps:")
		for _, s := range resp.Steps {
			fmt.Printf("  %d. %s\n", s.Number, s.Text)
		}
	}

	if len(resp.MediaReferences) > 0 {
		fmt.Println("\nVisuals:")
		for _, m := range resp.MediaReferences {
			fmt.Printf("  %s (page %d) citation %s\n", m.RefText, m.Page, m.CitationID)
		}
	}

	if len(resp.SourceDocuments) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(resp.SourceDocuments, ", "))
	}
	for _, n := range resp.Notes {
		fmt.Printf("\n%s\n", n)
	}
}

func init() {
	queryCmd.Flags().BoolVar(&querySpeech, "speech", false, "append a voice-friendly script")
	queryCmd.Flags().IntVar(&queryMaxResults, "max-results", 0, "maximum graph results (default from config)")
}
