// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/LabAssistant/pkg/validation"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/retrieval"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	DataDir     string
	WeaviateURL string
	ClassName   string
	Reset       bool
	BatchSize   int
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed protocol documents into the vector store",
		Long: `Loads every PDF and text file under --data, splits them into overlapping
chunks, embeds them with OpenAI and imports them into Weaviate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ingestor, err := a.newIngestor(opts)
			if err != nil {
				return err
			}

			a.printer.Title("Ingesting protocols")
			a.printer.Info("Loading documents from " + opts.DataDir)

			report, err := ingestor.Run(cmd.Context(), opts.DataDir)
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}
			if report.Documents == 0 {
				a.printer.Warning("No documents found in " + opts.DataDir)
				return nil
			}

			a.printer.KeyValue(
				[2]string{"documents", strconv.Itoa(report.Documents)},
				[2]string{"chunks", strconv.Itoa(report.Chunks)},
				[2]string{"stored", strconv.Itoa(report.Stored)},
			)
			a.printer.Success(fmt.Sprintf("Saved %d chunks to %s", report.Stored, opts.ClassName))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data", "data/", "Directory of PDF and text files")
	cmd.Flags().StringVar(&opts.WeaviateURL, "weaviate-url", config.EnvString("WEAVIATE_URL", defaultWeaviateURL), "Weaviate root URL")
	cmd.Flags().StringVar(&opts.ClassName, "class", retrieval.DefaultClassName, "Weaviate class holding the chunks")
	cmd.Flags().BoolVar(&opts.Reset, "reset", true, "Drop and recreate the class before importing")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", retrieval.DefaultEmbedBatchSize, "Texts per embedding request")
	return cmd
}

func buildIngestor(opts ingestOptions) (ingestRunner, error) {
	className, err := validation.SanitizeClassName(opts.ClassName)
	if err != nil {
		return nil, err
	}
	openaiCfg := openAIConfig()
	openaiCfg.BatchSize = opts.BatchSize
	embedder, err := retrieval.NewOpenAIEmbedder(openaiCfg)
	if err != nil {
		return nil, err
	}
	client, err := retrieval.NewWeaviateClient(opts.WeaviateURL)
	if err != nil {
		return nil, err
	}
	return &retrieval.Ingestor{
		Splitter: retrieval.NewSplitter(),
		Embedder: embedder,
		Store:    retrieval.NewWeaviateStore(client, className),
		Reset:    opts.Reset,
	}, nil
}
