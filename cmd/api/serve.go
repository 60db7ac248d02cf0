package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskaza/api/internal/app"
	"taskaza/api/internal/config"
	"taskaza/api/internal/email"
	"taskaza/api/internal/emailtoken"
	"taskaza/api/internal/store"
	"taskaza/api/internal/tasktree"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

DATABASE_URL selects the backend: a sqlite: URL opens the embedded store,
anything else is treated as a PostgreSQL URL and migrated on start.
REDIS_URL enables email verification and password reset.

Examples:
  api serve
  api serve --addr :9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides API_ADDR)")
}

// dataStore is what both backends offer the service.
type dataStore interface {
	app.UserStore
	tasktree.Store
	Close() error
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := context.Background()

	data, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer data.Close()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured; verification and reset mails will not be sent")
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for email tokens")
		tokens, err := emailtoken.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer tokens.Close()
		service = app.NewWithTokenStore(cfg, data, data, tokens, mailer)
	} else {
		log.Printf("REDIS_URL not set; email verification and password reset are disabled")
		service = app.New(cfg, data, data, mailer)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Taskaza API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (dataStore, error) {
	if store.IsSQLiteURL(cfg.DatabaseURL) {
		log.Printf("Using SQLite store")
		sqlite, err := store.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		return sqlite, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		log.Printf("applied migration %s", version)
	}
	return store.NewPostgresStore(db), nil
}
