package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/voicedesk/internal/api"
	"github.com/ashureev/voicedesk/internal/config"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/handoff"
	"github.com/ashureev/voicedesk/internal/healthrpc"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/knowledge"
	"github.com/ashureev/voicedesk/internal/middleware"
	"github.com/ashureev/voicedesk/internal/notify"
	"github.com/ashureev/voicedesk/internal/provision"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/sweeper"
	"github.com/ashureev/voicedesk/internal/voice"
	"github.com/ashureev/voicedesk/internal/wizard"
	"github.com/ashureev/voicedesk/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, notification socket and background sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func runServer(cfg *config.Config) error {
	slog.Info("Starting server", "version", version, "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"container", config.IsContainer(), "db_driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	voices, err := voice.Load(cfg.VoiceCatalogPath)
	if err != nil {
		return fmt.Errorf("load voice catalog: %w", err)
	}

	kb, err := knowledge.NewStore(cfg.KnowledgeBaseDir, cfg.KnowledgeBaseMaxBytes)
	if err != nil {
		return fmt.Errorf("initialize knowledge base store: %w", err)
	}

	src := secrets.Chain{secrets.Env{}, secrets.Store{Secrets: repo}}
	if _, err := src.Secret(ctx, secrets.VendorAPIKey); err != nil {
		slog.Warn("Vendor API key not configured, agent creation will fail until it is set", "error", err)
	}

	vendor := elevenlabs.NewClientWithBaseURL(cfg.ElevenLabsBaseURL, cfg.VendorTimeout)
	prov := provision.New(voices, src, vendor, kb)
	hub := notify.NewHub()

	handler := api.NewHandler(api.Deps{
		Repo:          repo,
		Auth:          identity.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Audience, cfg.Auth.Issuer),
		Wizard:        wizard.NewService(repo, voices),
		Orchestrator:  handoff.NewOrchestrator(repo, repo, prov, hub, cfg.Auth.SignupPath, cfg.PendingTTL),
		Reactor:       handoff.NewReactor(repo, repo, prov, hub),
		Voices:        voices,
		Previewer:     voice.NewPreviewer(voices, src, vendor),
		Knowledge:     kb,
		ReplayTimeout: cfg.ReplayTimeout,
	})
	wsHandler := notify.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	api.NewHealthHandler(repo).RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Get("/ws/notifications", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: the notification socket is long lived.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	sweeper.Start(ctx, repo, sweeper.Config{
		Interval: cfg.SweepInterval,
		DraftTTL: cfg.DraftTTL,
		ClaimTTL: 2 * cfg.ReplayTimeout,

		Mailboxes:  hub,
		MailboxTTL: cfg.MailboxTTL,

		Documents:   kb,
		DocumentTTL: cfg.KnowledgeBaseTTL,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.GRPCHealthPort != "" {
		hs, err := healthrpc.New(":"+cfg.GRPCHealthPort, repo)
		if err != nil {
			return fmt.Errorf("initialize grpc health server: %w", err)
		}
		g.Go(func() error {
			slog.Info("gRPC health server listening", "addr", hs.Addr())
			return hs.Serve(gctx)
		})
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
