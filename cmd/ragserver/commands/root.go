// Package commands defines all Cobra CLI commands for the ragserver binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/paperless-rag/ragserver-go/internal/audit"
	"github.com/paperless-rag/ragserver-go/internal/config"
	"github.com/paperless-rag/ragserver-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragserver",
		Short: "ragserver — retrieval-augmented question answering over a document-management service",
		Long: `ragserver answers natural-language questions over documents stored in an
external document-management service (a paperless-ngx-style REST API). It
ingests document text into a Qdrant vector store, retrieves relevant chunks
for a question, and calls an LLM gateway to produce a grounded answer with
citations.

Configuration is read from environment variables, optionally seeded from a
YAML file (~/.ragserver/config.yaml). See 'ragserver --help' for available
commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragserver/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
