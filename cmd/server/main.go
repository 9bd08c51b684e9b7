package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/browserd/browserd/internal/api"
	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/llm"
	"github.com/browserd/browserd/internal/nats"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
	"github.com/browserd/browserd/internal/vault"
)

func main() {
	// Load .env before flags so OPENAI_* and friends are visible
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Parse CLI flags
	cfg := config.ParseFlags()

	// Handle --version and --help
	config.HandleFlags(cfg)

	log.Printf("Starting %s v%s (browser automation server)", config.AppName, config.Version)

	// Chromium setup. Sessions cannot launch without a binary, so this
	// runs before anything else and downloads one on a bare host.
	chromeBin, err := browser.EnsureBrowser(context.Background(), cfg.ChromeBin, cfg.ChromeRevision)
	if err != nil {
		log.Fatalf("Failed to set up Chromium: %v", err)
	}
	log.Printf("Using Chromium at %s", chromeBin)

	// Credential vault
	credVault := vault.Open(cfg.VaultPath)

	// Session registry
	defaults := browser.DefaultProfile()
	defaults.Headless = cfg.Headless
	registry := browser.NewRegistry(chromeBin, cfg.WorkspaceDir, defaults)

	// LLM client. Without a key the server still runs; agent and
	// extraction tools fail at call time.
	client, err := llm.NewClient("", llm.WithModel(cfg.AgentModel))
	if err != nil {
		log.Printf("Warning: %v - agent and extraction tools disabled", err)
		client = nil
	}

	// Task plumbing
	store := tasks.NewStore(cfg.TaskTTL)
	hub := tasks.NewHub()
	orchestrator := tasks.NewOrchestrator(registry, store, hub, client)

	// NATS JetStream event mirror
	var natsServer *nats.Server
	if cfg.WithNats {
		log.Printf("Setting up NATS JetStream...")

		natsServer, err = nats.NewServer(nats.ServerConfig{
			BinPath:  cfg.NatsBin,
			StoreDir: cfg.NatsStore,
			URL:      cfg.NatsURL,
			AutoDL:   cfg.NatsAutoDL,
		})
		if err != nil {
			log.Fatalf("Failed to create NATS server: %v", err)
		}
		if err := natsServer.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start NATS server: %v", err)
		}

		publisher, err := nats.NewPublisher(context.Background(), natsServer.GetJetStream())
		if err != nil {
			log.Fatalf("Failed to create event publisher: %v", err)
		}
		orchestrator.SetPublisher(publisher)
	}

	dispatcher := tools.NewDispatcher(cfg, registry, orchestrator, credVault, client)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      config.AppName,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Setup routes
	api.SetupRoutesWithConfig(app, dispatcher, registry, orchestrator, api.RouteConfig{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		IdempotencyTTL:    cfg.IdempotencyTTL,
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting server on %s", addr)
	log.Printf("Tool dispatch at %s/mcp", cfg.BaseURL)
	if cfg.WithNats {
		log.Printf("NATS JetStream enabled at %s", cfg.NatsURL)
	}

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Listen returned, the app is down. Wind the rest down in order:
	// stop live agent runs first so session teardown does not race them.
	orchestrator.Stop()
	registry.CloseAll()
	hub.Close()
	store.Stop()
	if natsServer != nil {
		_ = natsServer.Stop()
	}
	log.Println("Server stopped")
}
