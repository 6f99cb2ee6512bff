package linecook

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		docs, err := comps.graph.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("no documents ingested")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-30s  %s/%s  %d pages  %s\n",
				d.ID, d.Filename, d.Category, d.DocumentType, d.PageCount,
				d.UploadedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%d documents\n", len(docs))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		if err := comps.orch.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base statistics and operating mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		stats, err := comps.graph.Stats(cmd.Context())
		if err != nil {
			return err
		}

		modes := comps.orch.Modes()
		fmt.Printf("mode: %s", modes.Mode())
		if reason := modes.Reason(); reason != "" {
			fmt.Printf(" (%s)", reason)
		}
		fmt.Println()

		fmt.Printf("documents: %d  nodes: %d  edges: %d\n", stats.Documents, stats.Nodes, stats.Edges)
		for typ, n := range stats.NodesByType {
			fmt.Printf("  entity %-12s %d\n", typ, n)
		}
		for typ, n := range stats.EdgesByType {
			fmt.Printf("  edge   %-20s %d\n", typ, n)
		}
		return nil
	},
}
