package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/browser"
	"github.com/cexll/autoloop/internal/config"
	"github.com/cexll/autoloop/internal/engine"
	"github.com/cexll/autoloop/internal/server"
)

var (
	loadDotEnv         = godotenv.Load
	newEngine          = engine.New
	defaultListenServe = http.ListenAndServe
)

func main() {
	if err := run(context.Background(), defaultListenServe); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, serve func(string, http.Handler) error) error {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Printf("Starting autoloop server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Workspace: %s", cfg.WorkspaceRoot)
	log.Printf("Auth enabled: %t", cfg.AuthEnabled())

	// Initialize the engine over the configured workspace
	eng, err := newEngine(cfg.WorkspaceRoot, backend.ShellRunner{}, browser.New())
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Initialize bearer-token auth when a secret is configured
	auth := server.NewAuthenticator(cfg.AuthSecret, cfg.AuthAudience, cfg.TokenTTL)

	// Setup router
	r := mux.NewRouter()
	handler := server.NewHandler(eng, auth)
	handler.RegisterRoutes(r)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost%s/health", addr)
	log.Printf("Status: http://localhost%s/status", addr)

	if err := serve(addr, r); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}
