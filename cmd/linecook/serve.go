package linecook

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linecook-ai/linecook/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		srv := api.NewServer(cfg.Server, api.Deps{
			Orchestrator: comps.orch,
			Retriever:    comps.retriever,
			Citations:    comps.citations,
			Graph:        comps.graph,
			Index:        comps.index,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Start(ctx)
	},
}
