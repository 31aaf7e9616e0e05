// Package server provides the public entry point for initializing the Case
// Desk service: configuration, storage, the agent adapter, the action
// dispatcher, and the HTTP router, wired once and handed to main.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/casedesk/casedesk/internal/agent"
	"github.com/casedesk/casedesk/internal/api"
	"github.com/casedesk/casedesk/internal/api/handlers"
	"github.com/casedesk/casedesk/internal/artifacts"
	"github.com/casedesk/casedesk/internal/briefs"
	"github.com/casedesk/casedesk/internal/chat"
	"github.com/casedesk/casedesk/internal/config"
	"github.com/casedesk/casedesk/internal/dispatch"
	"github.com/casedesk/casedesk/internal/retention"
	"github.com/casedesk/casedesk/internal/signing"
	"github.com/casedesk/casedesk/internal/store"
	"github.com/casedesk/casedesk/internal/telemetry"
	"github.com/casedesk/casedesk/internal/transform"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Case Desk service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the case store, exposed so main can close it on shutdown.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the service from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var caseStore store.Store
	if cfg.Database.URL != "" {
		caseStore, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	} else {
		caseStore = store.NewMemoryStore()
	}

	var renderer artifacts.Renderer
	if cfg.Artifacts.Local {
		dataDir := cfg.Database.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		renderer, err = artifacts.NewLocalStore(dataDir)
		if err != nil {
			return nil, fmt.Errorf("init local artifact store: %w", err)
		}
		log.Info().Str("dir", dataDir).Msg("✅ Local artifact store initialized")
	} else {
		renderer, err = artifacts.NewS3Store(ctx, cfg.Artifacts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("init s3 artifact store: %w", err)
		}
		log.Info().Str("bucket", cfg.Artifacts.Bucket).Msg("✅ S3 artifact store initialized")
	}

	verifier := signing.NewVerifier(
		[]byte(cfg.Signing.Secret),
		signing.WithTolerance(cfg.Signing.ReplayTolerance),
	)
	transformer := transform.New()
	invoker := agent.NewInvoker(cfg.Agent.Endpoint, cfg.Agent.ID, cfg.Agent.Timeout)
	chatClient := chat.NewHTTPClient(cfg.Chat.APIBase, cfg.Chat.BotToken)
	dispatcher := dispatch.New(caseStore, chatClient, briefs.NewGenerator(), renderer)

	log.Info().Msg("✅ Webhook pipeline initialized")

	if cfg.Retention.Days > 0 {
		maxAge := time.Duration(cfg.Retention.Days) * 24 * time.Hour
		janitor := retention.NewJanitor(caseStore, cfg.Retention.Interval, maxAge)
		janitor.RegisterArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress))
		go janitor.Start(ctx)
	}

	h := handlers.New(caseStore, verifier, transformer, invoker, dispatcher, chatClient)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        caseStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
