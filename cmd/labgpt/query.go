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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/LabAssistant/pkg/validation"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/retrieval"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	Query        string
	TopK         int
	MinRelevance float64
	WeaviateURL  string
	ClassName    string
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question from the indexed protocols",
		Long: `Embeds the question, retrieves the closest protocol chunks from Weaviate and
asks the chat model to answer using only that context.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Query == "" && len(args) == 1 {
				opts.Query = args[0]
			}
			if strings.TrimSpace(opts.Query) == "" {
				return errors.New("a question is required: use --query or pass it as an argument")
			}

			querier, err := a.newQuerier(opts)
			if err != nil {
				return err
			}
			answer, err := querier.Query(cmd.Context(), opts.Query)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			if answer.LowRelevance {
				a.printer.Warning(retrieval.NoMatchMessage)
			}
			if a.printer.Plain {
				fmt.Fprintln(a.printer.Out, answer.Formatted)
				return nil
			}
			a.printer.Box("Response", answer.Text)
			for _, source := range answer.Sources {
				a.printer.Info(source)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "The question to answer")
	cmd.Flags().IntVar(&opts.TopK, "k", retrieval.DefaultTopK, "Number of chunks to retrieve")
	cmd.Flags().Float64Var(&opts.MinRelevance, "min-relevance", retrieval.DefaultMinRelevance, "Certainty below which a warning is shown")
	cmd.Flags().StringVar(&opts.WeaviateURL, "weaviate-url", config.EnvString("WEAVIATE_URL", defaultWeaviateURL), "Weaviate root URL")
	cmd.Flags().StringVar(&opts.ClassName, "class", retrieval.DefaultClassName, "Weaviate class holding the chunks")
	return cmd
}

func buildQuerier(opts queryOptions) (queryRunner, error) {
	className, err := validation.SanitizeClassName(opts.ClassName)
	if err != nil {
		return nil, err
	}
	openaiCfg := openAIConfig()
	embedder, err := retrieval.NewOpenAIEmbedder(openaiCfg)
	if err != nil {
		return nil, err
	}
	llm, err := retrieval.NewOpenAIChat(openaiCfg)
	if err != nil {
		return nil, err
	}
	client, err := retrieval.NewWeaviateClient(opts.WeaviateURL)
	if err != nil {
		return nil, err
	}
	return retrieval.NewQuerier(embedder, retrieval.NewWeaviateStore(client, className), llm,
		retrieval.WithTopK(opts.TopK),
		retrieval.WithMinRelevance(opts.MinRelevance),
	), nil
}
