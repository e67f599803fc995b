// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol_assistant wires the protocol assistant HTTP service.
//
// The service accepts a researcher's request and optional protocol files,
// drives a multi-turn conversation with the upstream chat backend and
// returns the structured protocol summary produced by the last turn.
//
// # Usage
//
//	cfg := protocol_assistant.Config{
//	    DanswerBaseURL: "https://danswer.lab.org/api",
//	    DanswerAPIKey:  os.Getenv("DANSWER_ADMIN_API_KEY"),
//	}
//	svc, err := protocol_assistant.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Callers that verify tokens themselves pass an AuthProvider:
//
//	opts := extensions.DefaultOptions().WithAuth(myProvider)
//	svc, err := protocol_assistant.New(cfg, &opts)
package protocol_assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/LabAssistant/pkg/extensions"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/config"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/middleware"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/observability"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/routes"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/services"
	"github.com/AleutianAI/LabAssistant/services/protocol_assistant/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "protocol-assistant"

// Authentication provider names accepted in Config.AuthProvider.
const (
	AuthProviderFirebase = "firebase"
	AuthProviderNone     = "none"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the protocol assistant lifecycle.
//
// # Thread Safety
//
// Run blocks and may be called once. Router is safe to call at any time.
type Service interface {
	// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight
	// requests for up to Config.ShutdownTimeout.
	Run() error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds protocol assistant configuration.
//
// # Required Fields
//
//   - DanswerBaseURL
//   - DanswerAPIKey
//   - FirebaseCredentialsPath, when AuthProvider is "firebase" and no
//     provider is injected through ServiceOptions
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// DanswerBaseURL is the upstream chat backend root.
	DanswerBaseURL string

	// DanswerAPIKey is the upstream admin API key.
	DanswerAPIKey string

	// AuthProvider selects token verification: "firebase" or "none".
	// Default: "firebase"
	AuthProvider string

	// FirebaseCredentialsPath is the service account JSON file.
	FirebaseCredentialsPath string

	// EndpointsConfigPath is the upstream endpoint map.
	// Default: "config/danswer_endpoints.yaml"
	EndpointsConfigPath string

	// PromptSequencePath is the prompt sequence file, watched for changes.
	// Default: "config/prompt_sequence.yaml"
	PromptSequencePath string

	// PromptSequenceName selects a sequence in PromptSequencePath.
	// Default: "protocol-assistant"
	PromptSequenceName string

	// PersonaID is sent when creating chat sessions. Default: 0
	PersonaID int

	// ChatTimeout bounds one chat request. Default: 5m
	ChatTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain. Default: 10s
	ShutdownTimeout time.Duration

	// OTelEndpoint is the OTLP gRPC collector. Empty disables tracing.
	OTelEndpoint string

	// GinMode sets the Gin framework mode. Empty keeps GIN_MODE.
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Read-only after New returns, except the prompt store, which guards its
// own state.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	prompts       *config.PromptStore
	stopWatch     context.CancelFunc
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New builds a ready-to-run Service.
//
// # Description
//
//  1. Applies defaults and checks required fields
//  2. Resolves the AuthProvider (injected, Firebase or none)
//  3. Initializes tracing when OTelEndpoint is set
//  4. Loads the endpoint map and the prompt sequence, and starts watching it
//  5. Builds the upstream client, upload service and chat orchestrator
//  6. Registers routes
//
// If opts is nil, extensions.DefaultOptions() is used.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if configuration is invalid or a file fails to load.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	if err := validateConfig(s.config); err != nil {
		return nil, err
	}

	if err := s.initAuth(); err != nil {
		return nil, fmt.Errorf("failed to initialize auth provider: %w", err)
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	} else {
		slog.Info("OTel endpoint not configured, tracing disabled")
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.registry)

	endpoints, err := config.LoadEndpoints(s.config.EndpointsConfigPath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}

	s.prompts, err = config.NewPromptStore(s.config.PromptSequencePath, s.config.PromptSequenceName)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load prompt sequence: %w", err)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	if err := s.prompts.Watch(watchCtx); err != nil {
		slog.Warn("Prompt sequence hot reload disabled", "error", err)
	}

	client, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL:   s.config.DanswerBaseURL,
		APIKey:    s.config.DanswerAPIKey,
		Endpoints: endpoints,
		Metrics:   s.metrics,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	uploads := services.NewUploadService(client, services.FileService{}, s.metrics)
	chat := services.NewChatOrchestrator(client, uploads, s.prompts, services.ChatOrchestratorOptions{
		PersonaID: s.config.PersonaID,
		Timeout:   s.config.ChatTimeout,
		Metrics:   s.metrics,
	})

	s.initRouter(uploads, chat)

	slog.Info("Protocol assistant initialized",
		"port", s.config.Port,
		"auth_provider", s.config.AuthProvider,
		"prompt_sequence", s.config.PromptSequenceName,
		"prompt_steps", len(s.prompts.Steps()))
	return s, nil
}

// =============================================================================
// Service Methods
// =============================================================================

func (s *service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx)
}

// serve runs the HTTP server until ctx is done, then shuts it down.
func (s *service) serve(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting protocol assistant server", "port", s.config.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down protocol assistant server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization Helpers
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.AuthProvider == "" {
		cfg.AuthProvider = AuthProviderFirebase
	}
	if cfg.EndpointsConfigPath == "" {
		cfg.EndpointsConfigPath = "config/danswer_endpoints.yaml"
	}
	if cfg.PromptSequencePath == "" {
		cfg.PromptSequencePath = "config/prompt_sequence.yaml"
	}
	if cfg.PromptSequenceName == "" {
		cfg.PromptSequenceName = "protocol-assistant"
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = services.DefaultChatTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.DanswerBaseURL = strings.TrimSpace(cfg.DanswerBaseURL)
	return cfg
}

func validateConfig(cfg Config) error {
	var missing []string
	if cfg.DanswerBaseURL == "" {
		missing = append(missing, "DanswerBaseURL")
	}
	if cfg.DanswerAPIKey == "" {
		missing = append(missing, "DanswerAPIKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// initAuth keeps an injected provider, otherwise builds the one named by
// Config.AuthProvider.
func (s *service) initAuth() error {
	if s.opts.AuthProvider != nil {
		return nil
	}

	switch s.config.AuthProvider {
	case AuthProviderNone:
		slog.Warn("Token verification disabled, every request is accepted as a local user")
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
		return nil
	case AuthProviderFirebase:
		if s.config.FirebaseCredentialsPath == "" {
			return errors.New("FirebaseCredentialsPath is required for the firebase auth provider")
		}
		provider, err := extensions.NewFirebaseAuthProvider(context.Background(), s.config.FirebaseCredentialsPath)
		if err != nil {
			return err
		}
		s.opts.AuthProvider = provider
		slog.Info("Using Firebase token verification")
		return nil
	default:
		return fmt.Errorf("unknown auth provider %q", s.config.AuthProvider)
	}
}

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}
	return cleanup, nil
}

func (s *service) initRouter(uploads *services.UploadService, chat *services.ChatOrchestrator) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), middleware.RequestID())

	routes.SetupRoutes(s.router, routes.Deps{
		Auth:     s.opts.AuthProvider,
		Audit:    s.opts.AuditLogger,
		Uploads:  uploads,
		Chat:     chat,
		Gatherer: s.registry,
	})
}

func (s *service) cleanup() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.prompts != nil {
		if err := s.prompts.Close(); err != nil {
			slog.Warn("Prompt watcher close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Service = (*service)(nil)
