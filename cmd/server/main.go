package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/devroom-ai/devroom/internal/ai"
	"github.com/devroom-ai/devroom/internal/auth"
	"github.com/devroom-ai/devroom/internal/collab"
	"github.com/devroom-ai/devroom/internal/config"
	"github.com/devroom-ai/devroom/internal/database"
	"github.com/devroom-ai/devroom/internal/handler"
	"github.com/devroom-ai/devroom/internal/sandbox"
	"github.com/devroom-ai/devroom/internal/store"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Create store and services
	s := store.New(db.DB)
	authService := auth.NewService(s, cfg.JWTSecret, cfg.TokenTTL)

	// Completion relay; without an API key, AI-directed prompts are ignored.
	var completer collab.Completer
	if cfg.AIKey != "" {
		completer = ai.NewRelay(ai.NewGeminiClient(cfg.AIEndpoint, cfg.AIModel, cfg.AIKey))
	} else {
		log.Println("GOOGLE_AI_KEY not set; completion relay disabled")
	}

	// Collaboration layer
	gate := collab.NewGate(authService, s)
	registry := collab.NewRegistry()
	msgRouter := collab.NewRouter(registry, completer)

	// Each socket session gets its own sandbox, isolated under the
	// configured workdir when one is set.
	msgRouter.RunnerFactory = func() *sandbox.Supervisor {
		workdir := ""
		if cfg.SandboxWorkdir != "" {
			workdir = filepath.Join(cfg.SandboxWorkdir, uuid.NewString())
		}
		return sandbox.NewSupervisor(sandbox.NewLocalRuntime(workdir))
	}

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	h := handler.New(s, cfg, authService, gate, registry, msgRouter)
	r.Mount("/", h.Routes())

	// Create server. No write timeout: websocket connections outlive any
	// sane HTTP deadline.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Flush pending file-tree saves
	h.Close()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
