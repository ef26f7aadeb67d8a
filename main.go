package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/truenamepath/truename/internal/archive"
	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/middleware"
	"github.com/truenamepath/truename/internal/registry"
	"github.com/truenamepath/truename/internal/resolver"
	"github.com/truenamepath/truename/internal/server"
	"github.com/truenamepath/truename/internal/tokens"
	"golang.org/x/time/rate"
)

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "Path to SQLite database")
	flag.Parse()

	cfg, err := config.LoadWithFlags(*port, *dbPath)
	if err != nil {
		log.Fatalf("Configuration error:\n%v\n\nSee .env.example for configuration options.", err)
	}

	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer database.Close()

	jwtAuth, err := auth.NewJWTProvider(database, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize JWT auth: %v", err)
	}

	// Seed admin user if a password is configured
	if cfg.AdminPassword != "" {
		passwordHash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
		if err := database.SeedAdminUser(cfg.AdminUsername, passwordHash); err != nil {
			slog.Warn("failed to seed admin user", "error", err)
		} else {
			slog.Info("admin user ready", "username", cfg.AdminUsername)
		}
	}

	// Every user needs a permanent Default context for resolution fallback.
	if err := database.SeedDefaultContexts(); err != nil {
		slog.Warn("failed to seed default contexts", "error", err)
	}

	var oidcAuth *auth.OIDCProvider
	if cfg.OIDCEnabled() {
		oidcAuth, err = auth.NewOIDCProvider(context.Background(), database, jwtAuth, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC provider: %v", err)
		}
		slog.Info("OIDC SSO enabled", "issuer", cfg.OIDCIssuer)
	}

	tokenSvc := tokens.New(database, cfg)
	tokenSvc.StartSweeper()
	defer tokenSvc.Stop()

	var exporter *archive.Exporter
	store, err := archive.NewStore(cfg)
	if err != nil {
		slog.Warn("audit archive disabled", "error", err)
	} else {
		exporter = archive.NewExporter(database, store)
	}

	var limiter *middleware.RateLimiter
	if cfg.OAuthRateLimit > 0 {
		limiter = middleware.NewRateLimiter(rate.Limit(cfg.OAuthRateLimit), cfg.OAuthBurst)
	}

	app := &server.App{
		Config:   cfg,
		DB:       database,
		JWTAuth:  jwtAuth,
		OIDCAuth: oidcAuth,
		Registry: registry.New(database, cfg),
		Resolver: resolver.New(database, cfg.Issuer),
		Tokens:   tokenSvc,
		Events:   events.NewHub(jwtAuth),
		Archive:  exporter,
		Limiter:  limiter,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("TrueNamePath server starting", "addr", addr, "db", cfg.DBType)

	if err := http.ListenAndServe(addr, app.Handler()); err != nil {
		log.Fatal("Server error:", err)
		os.Exit(1)
	}
}
