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
	"io"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/LabAssistant/services/scraper"
	"github.com/spf13/cobra"
)

type scrapeOptions struct {
	BaseURL     string
	StoragePath string
	StatePath   string
	Force       bool
	Rate        float64
	Concurrency int
}

func newScrapeCmd(a *app) *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Download protocol pages into text files",
		Long: `Walks the protocol library's subcategories and saves the text of every
protocol page to <path>/<name>.txt. Protocols saved by earlier runs are
skipped unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closer, err := a.newScraper(opts)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			a.printer.Title("Scraping " + opts.BaseURL)
			report, err := s.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("scrape failed: %w", err)
			}

			a.printer.KeyValue(
				[2]string{"subcategories", strconv.Itoa(report.Subcategories)},
				[2]string{"protocols", strconv.Itoa(report.Protocols)},
				[2]string{"saved", strconv.Itoa(report.Saved)},
				[2]string{"skipped", strconv.Itoa(report.Skipped)},
				[2]string{"missing", strconv.Itoa(report.Missing)},
				[2]string{"failed", strconv.Itoa(report.Failed)},
			)
			if report.Failed > 0 {
				a.printer.Warning(fmt.Sprintf("%d protocols could not be fetched", report.Failed))
			}
			a.printer.Success(fmt.Sprintf("Saved %d protocols to %s", report.Saved, opts.StoragePath))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.BaseURL, "url", scraper.DefaultBaseURL, "Protocol library root")
	cmd.Flags().StringVar(&opts.StoragePath, "path", scraper.DefaultStoragePath, "Output directory")
	cmd.Flags().StringVar(&opts.StatePath, "state", ".scrape-state", "Resume database directory, empty to disable")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Refetch protocols saved by earlier runs")
	cmd.Flags().Float64Var(&opts.Rate, "rate", scraper.DefaultRate, "Maximum requests per second")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", scraper.DefaultConcurrency, "Parallel protocol fetches")
	return cmd
}

func buildScraper(opts scrapeOptions) (scrapeRunner, io.Closer, error) {
	var state *scraper.State
	if opts.StatePath != "" {
		var err error
		state, err = scraper.OpenState(scraper.StateConfig{Path: opts.StatePath, Logger: slog.Default()})
		if err != nil {
			return nil, nil, err
		}
	}

	s, err := scraper.New(scraper.Config{
		BaseURL:       opts.BaseURL,
		StoragePath:   opts.StoragePath,
		RatePerSecond: opts.Rate,
		Concurrency:   opts.Concurrency,
		Force:         opts.Force,
		State:         state,
	})
	if err != nil {
		if state != nil {
			_ = state.Close()
		}
		return nil, nil, err
	}
	if state == nil {
		return s, nil, nil
	}
	return s, state, nil
}
