// Command ragserver is the entry point for the RAG question-answering
// server over a document-management service. It provides a CLI (via
// Cobra) with subcommands for serving the HTTP API, one-shot ingestion,
// and one-shot question answering.
package main

import (
	"fmt"
	"os"

	"github.com/paperless-rag/ragserver-go/cmd/ragserver/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
