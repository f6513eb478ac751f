// Command tableserverd runs the reference table server implementing
// spec.md §4.10's wire contract: generic OData-queryable CRUD over
// whatever entity types clients register, backed by Postgres.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/internal/tableserver"
	"github.com/erauner12/syncengine/internal/tableserver/auth"
	"github.com/erauner12/syncengine/internal/tableserver/store"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "tableserverd").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	st, err := store.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer st.Close()

	isDevMode := env("ENV", "") == "dev"
	jwtSecret := env("JWT_HS256_SECRET", "dev-secret-change-in-production")
	if !isDevMode && (jwtSecret == "" || jwtSecret == "dev-secret-change-in-production") {
		log.Fatal().Msg("FATAL: cannot start in production mode with default or missing JWT_HS256_SECRET")
	}

	jwtIssuer := env("JWT_ISSUER", "")
	jwksURL := env("JWT_JWKS_URL", "")
	if (jwksURL != "" && jwtIssuer == "") || (jwksURL == "" && jwtIssuer != "") {
		log.Fatal().
			Str("issuer", jwtIssuer).
			Str("jwks_url", jwksURL).
			Msg("FATAL: JWT_ISSUER and JWT_JWKS_URL must both be set or both be empty")
	}

	authn := auth.New(auth.Config{
		HS256Secret: jwtSecret,
		DevMode:     isDevMode,
		Issuer:      jwtIssuer,
		JWKSURL:     jwksURL,
		Audience:    env("JWT_AUDIENCE", ""),
	})

	var opts []tableserver.Option
	if env("HARD_DELETE", "") == "true" {
		opts = append(opts, tableserver.WithHardDelete())
	}
	srv := tableserver.New(st, authn, opts...)
	defer srv.Close()

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting tableserverd")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("tableserverd stopped")
}
