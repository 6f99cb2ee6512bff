// Package linecook is the CLI: serve, ingest, query, and document
// management against the knowledge base.
package linecook

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linecook-ai/linecook/pkg/config"
	"github.com/linecook-ai/linecook/pkg/log"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "linecook",
	Short: "Linecook - QSR equipment knowledge assistant",
	Long: `Linecook ingests restaurant equipment manuals into a knowledge graph
and answers operational questions with structured, cited procedures.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetDebug(debug)

		// init and version run without an existing configuration.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("linecook version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./linecook.toml or ~/.linecook/linecook.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
}
