// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command labgpt runs the retrieval and scraping tools that feed the
// protocol assistant.
//
// # Subcommands
//
//	labgpt scrape   download protocol pages into text files
//	labgpt ingest   embed PDFs and text files into Weaviate
//	labgpt query    answer a question from the indexed chunks
//
// # Environment Variables
//
//   - OPENAI_API_KEY: Required by ingest and query
//   - OPENAI_BASE_URL: Optional API root override
//   - OPENAI_EMBEDDING_MODEL, OPENAI_CHAT_MODEL: Model overrides
//   - WEAVIATE_URL: Vector store root (default: http://localhost:8080)
//   - DEBUG_MODE, LOG_DIR
//
// A .env file in the working directory is loaded first when present.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/LabAssistant/pkg/logging"
	"github.com/AleutianAI/LabAssistant/pkg/ux"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/retrieval"
	"github.com/AleutianAI/LabAssistant/services/scraper"
	"github.com/spf13/cobra"
)

const defaultWeaviateURL = "http://localhost:8080"

// =============================================================================
// Runners
// =============================================================================

type ingestRunner interface {
	Run(ctx context.Context, dataDir string) (retrieval.IngestReport, error)
}

type queryRunner interface {
	Query(ctx context.Context, question string) (*retrieval.Answer, error)
}

type scrapeRunner interface {
	Run(ctx context.Context) (scraper.Report, error)
}

// app holds the printer and the constructors each subcommand uses. Tests
// replace the constructors with fakes.
type app struct {
	printer *ux.Printer

	newIngestor func(opts ingestOptions) (ingestRunner, error)
	newQuerier  func(opts queryOptions) (queryRunner, error)
	newScraper  func(opts scrapeOptions) (scrapeRunner, io.Closer, error)
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		printer:     ux.NewPrinter(out, errOut),
		newIngestor: buildIngestor,
		newQuerier:  buildQuerier,
		newScraper:  buildScraper,
	}
}

// =============================================================================
// Root Command
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "labgpt",
		Short:         "Retrieval and scraping tools for the lab protocol assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.printer.Out)
	root.SetErr(a.printer.Err)

	root.AddCommand(
		newIngestCmd(a),
		newQueryCmd(a),
		newScrapeCmd(a),
	)
	return root
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelFromDebugMode(os.Getenv("DEBUG_MODE")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "labgpt",
	})
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	_ = logger.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		a.printer.Error(err.Error())
		return 1
	}
	return 0
}

// openAIConfig reads the OpenAI settings shared by ingest and query.
func openAIConfig() retrieval.OpenAIConfig {
	return retrieval.OpenAIConfig{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		EmbeddingModel: os.Getenv("OPENAI_EMBEDDING_MODEL"),
		ChatModel:      os.Getenv("OPENAI_CHAT_MODEL"),
	}
}
