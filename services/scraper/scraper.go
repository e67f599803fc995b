// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scraper downloads protocol pages from the Opentrons protocol
// library into text files for ingestion.
//
//	root ──► a.subCategory ──► div.protocol a ──► div.selected-protocol
//	                                                     │
//	                                          <storage>/<name>.txt
//
// Requests are rate limited and run with bounded concurrency. Saved
// protocol URLs are recorded in a State database and skipped on later runs
// unless Force is set.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "https://protocols.opentrons.com"
	DefaultStoragePath = "data/"
	DefaultRate        = 2.0
	DefaultConcurrency = 4
)

// Config configures a Scraper.
type Config struct {
	// BaseURL is the library root. Default: DefaultBaseURL
	BaseURL string

	// StoragePath receives one .txt file per protocol. Default: "data/"
	StoragePath string

	// RatePerSecond limits page requests. Default: 2
	RatePerSecond float64

	// Concurrency bounds in-flight protocol fetches. Default: 4
	Concurrency int

	// Force refetches protocols already recorded in State.
	Force bool

	// State may be nil, in which case nothing is skipped or recorded.
	State *State

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Report summarizes a run.
type Report struct {
	Subcategories int
	Protocols     int
	Saved         int
	Skipped       int
	Missing       int
	Failed        int
}

// Scraper walks the protocol library.
type Scraper struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

// New returns a Scraper with defaults applied.
func New(cfg Config) (*Scraper, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = DefaultStoragePath
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRate
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	return &Scraper{
		cfg:     cfg,
		base:    base,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

// Run scrapes every protocol reachable from the root page.
//
// # Outputs
//
//   - Report: Counts for the run, also returned alongside an error.
//   - error: Non-nil when the root page cannot be fetched, the storage
//     directory cannot be created, or ctx is cancelled. Failures on
//     individual pages are logged and counted instead.
func (s *Scraper) Run(ctx context.Context) (Report, error) {
	var report Report

	if err := os.MkdirAll(s.cfg.StoragePath, 0750); err != nil {
		return report, fmt.Errorf("create storage directory: %w", err)
	}

	root, err := s.fetch(ctx, s.base.String())
	if err != nil {
		return report, fmt.Errorf("fetch root page: %w", err)
	}

	subcategories := SubcategoryLinks(root)
	report.Subcategories = len(subcategories)
	slog.Info("Found subcategories", "count", len(subcategories))

	var protocols []string
	seen := make(map[string]bool)
	for _, href := range subcategories {
		subURL := s.resolve(href)
		slog.Info("Scraping subcategory", "url", subURL)
		page, err := s.fetch(ctx, subURL)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			slog.Warn("Failed to fetch subcategory", "url", subURL, "error", err)
			continue
		}
		for _, link := range ProtocolLinks(page) {
			protocolURL := s.resolve(link)
			if !seen[protocolURL] {
				seen[protocolURL] = true
				protocols = append(protocols, protocolURL)
			}
		}
	}
	report.Protocols = len(protocols)

	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, protocolURL := range protocols {
		g.Go(func() error {
			outcome, err := s.scrapeProtocol(gctx, protocolURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("Failed to scrape protocol", "url", protocolURL, "error", err)
				count(&report.Failed)
				return nil
			}
			switch outcome {
			case outcomeSaved:
				count(&report.Saved)
			case outcomeSkipped:
				count(&report.Skipped)
			case outcomeMissing:
				count(&report.Missing)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	slog.Info("Scrape complete",
		"protocols", report.Protocols,
		"saved", report.Saved,
		"skipped", report.Skipped,
		"missing", report.Missing,
		"failed", report.Failed)
	return report, nil
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeSkipped
	outcomeMissing
)

func (s *Scraper) scrapeProtocol(ctx context.Context, protocolURL string) (outcome, error) {
	if s.cfg.State != nil && !s.cfg.Force {
		done, err := s.cfg.State.Seen(protocolURL)
		if err != nil {
			return 0, err
		}
		if done {
			slog.Debug("Protocol already scraped", "url", protocolURL)
			return outcomeSkipped, nil
		}
	}

	name, err := ProtocolName(protocolURL)
	if err != nil {
		return 0, err
	}

	page, err := s.fetch(ctx, protocolURL)
	if err != nil {
		return 0, err
	}
	text, ok := ProtocolText(page)
	if !ok {
		slog.Info("No protocol data found", "url", protocolURL)
		return outcomeMissing, nil
	}

	file := filepath.Join(s.cfg.StoragePath, name+".txt")
	if err := os.WriteFile(file, []byte(text), 0640); err != nil {
		return 0, fmt.Errorf("write %s: %w", file, err)
	}
	slog.Info("Saved protocol", "name", name, "file", file)

	if s.cfg.State != nil {
		if err := s.cfg.State.Record(protocolURL, file); err != nil {
			return 0, err
		}
	}
	return outcomeSaved, nil
}

// fetch waits for the rate limiter, then GETs and parses rawURL.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// resolve makes href absolute against the base URL.
func (s *Scraper) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return s.base.String() + href
	}
	return s.base.ResolveReference(ref).String()
}
