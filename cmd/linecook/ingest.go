package linecook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/ingest"
)

var ingestHighPriority bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file|directory...]",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest runs the full pipeline for each file: validation, text
extraction, entity extraction, graph and index writes, and verification.
The command waits for each document to reach a terminal state.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		ctx := cmd.Context()
		prio := ingest.PriorityNormal
		if ingestHighPriority {
			prio = ingest.PriorityHigh
		}

		files, err := expandPaths(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files to ingest")
		}

		failed := 0
		for _, path := range files {
			if err := ingestOne(ctx, comps, path, prio); err != nil {
				fmt.Fprintf(os.Stderr, "failed: %s: %v\n", path, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(files))
		}
		return nil
	},
}

// expandPaths resolves arguments to a flat file list, walking
// directories recursively.
func expandPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func ingestOne(ctx context.Context, comps *components, path string, prio ingest.Priority) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	res := comps.orch.SubmitWithPriority(ctx, filepath.Base(path), data, prio)
	if !res.OK {
		return fmt.Errorf("rejected: %s", res.Message)
	}

	rec, err := comps.orch.Wait(ctx, res.ProcessID, 200*time.Millisecond)
	if err != nil {
		return err
	}
	if rec.Stage != domain.StageVerified {
		return fmt.Errorf("%s: %s", rec.Stage, rec.Message)
	}

	fmt.Printf("ingested %s: document %s, %d entities, %d relationships\n",
		filepath.Base(path), res.DocumentID, rec.EntitiesFound, rec.RelationshipsFound)
	return nil
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestHighPriority, "high-priority", false, "process ahead of queued work during degraded operation")
}
