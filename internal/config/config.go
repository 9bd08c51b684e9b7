package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

const (
	// Version is the current version of browserd
	Version = "0.1.0"
	// AppName is the application name
	AppName = "browserd"
)

// Config holds all configuration options for the browserd server
type Config struct {
	// Server
	Host    string
	Port    int
	BaseURL string // Full base URL for API responses (e.g., http://localhost:8000)

	// Browser (Chromium via CDP)
	Headless       bool
	ChromeBin      string // Path to an existing Chromium binary ("" downloads one)
	ChromeRevision int
	WorkspaceDir   string // Where sessions write extraction artifacts

	// Agent
	MaxSteps     int    // Step budget per agent task
	AgentModel   string // Model used for action decisions
	ExtractModel string // Cheaper model used for content extraction

	// Vault
	VaultPath string // JSON file backing the credential vault

	// Tasks
	TaskTTL time.Duration // Retention for finished task records

	// Queue (NATS JetStream event mirror)
	WithNats   bool
	NatsURL    string
	NatsStore  string
	NatsAutoDL bool
	NatsBin    string

	// Security
	RateLimitRequests int           // requests per window, 0 disables
	RateLimitWindow   time.Duration // time window for rate limiting
	IdempotencyTTL    time.Duration // TTL for idempotency keys

	// Flags
	ShowVersion bool
	ShowHelp    bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8000,
		BaseURL:           "", // Will be auto-generated if empty
		Headless:          true,
		ChromeBin:         "",
		ChromeRevision:    0,
		WorkspaceDir:      "./data/workspace",
		MaxSteps:          20,
		AgentModel:        "gpt-4o",
		ExtractModel:      "gpt-4o-mini",
		VaultPath:         "./data/credentials.json",
		TaskTTL:           24 * time.Hour,
		WithNats:          false,
		NatsURL:           "nats://127.0.0.1:4222",
		NatsStore:         "./data/nats",
		NatsAutoDL:        true,
		NatsBin:           "./bin/nats-server",
		RateLimitRequests: 0,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
		ShowVersion:       false,
		ShowHelp:          false,
	}
}

// ParseFlags parses command line flags and returns the config
func ParseFlags() *Config {
	cfg := DefaultConfig()

	// Server flags
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for API responses (e.g., http://localhost:8000)")

	// Browser flags
	flag.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run browser sessions headless")
	flag.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "Path to a Chromium binary (empty downloads one)")
	flag.IntVar(&cfg.ChromeRevision, "chrome-revision", cfg.ChromeRevision, "Chromium revision to download (0 uses default)")
	flag.StringVar(&cfg.WorkspaceDir, "workspace", cfg.WorkspaceDir, "Directory for session artifacts")

	// Agent flags
	flag.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "Step budget per agent task (1-100)")
	flag.StringVar(&cfg.AgentModel, "agent-model", cfg.AgentModel, "Model for agent action decisions")
	flag.StringVar(&cfg.ExtractModel, "extract-model", cfg.ExtractModel, "Model for content extraction")

	// Vault flags
	flag.StringVar(&cfg.VaultPath, "vault-path", cfg.VaultPath, "JSON file backing the credential vault")

	// Task flags
	flag.DurationVar(&cfg.TaskTTL, "task-ttl", cfg.TaskTTL, "Retention for finished task records")

	// NATS flags
	flag.BoolVar(&cfg.WithNats, "with-nats", cfg.WithNats, "Mirror task events to NATS JetStream")
	flag.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")
	flag.StringVar(&cfg.NatsStore, "nats-store", cfg.NatsStore, "NATS JetStream storage directory")
	flag.BoolVar(&cfg.NatsAutoDL, "nats-autodl", cfg.NatsAutoDL, "Auto-download NATS server binary")
	flag.StringVar(&cfg.NatsBin, "nats-bin", cfg.NatsBin, "Path to NATS server binary")

	// Security flags
	flag.IntVar(&cfg.RateLimitRequests, "rate-limit", cfg.RateLimitRequests, "Rate limit requests per minute (0 disables)")

	// Other flags
	flag.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", cfg.ShowHelp, "Show help message")

	// Custom usage function
	flag.Usage = func() {
		PrintHelp()
	}

	flag.Parse()

	// Auto-generate BaseURL if not provided
	if cfg.BaseURL == "" {
		host := cfg.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		cfg.BaseURL = fmt.Sprintf("http://%s:%d", host, cfg.Port)
	}

	// Validate
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 1
	}
	if cfg.MaxSteps > 100 {
		cfg.MaxSteps = 100
	}
	if cfg.TaskTTL < time.Minute {
		cfg.TaskTTL = time.Minute
	}
	if cfg.RateLimitRequests < 0 {
		cfg.RateLimitRequests = 0
	}

	return cfg
}

// PrintVersion prints version information
func PrintVersion() {
	fmt.Printf("%s v%s\n", AppName, Version)
}

// PrintHelp prints help information
func PrintHelp() {
	fmt.Printf(`%s v%s (browser automation server)

Usage:
  ./server [flags]

Server:
  --host            %s
  --port            %d
  --base-url        %s (auto-generated if empty)

Browser (Chromium CDP):
  --headless        %v
  --chrome-bin      path to Chromium (empty downloads one)
  --chrome-revision %d
  --workspace       %s

Agent:
  --max-steps       %d (step budget per task)
  --agent-model     %s
  --extract-model   %s

Vault:
  --vault-path      %s

Tasks:
  --task-ttl        %s (retention for finished tasks)

Queue (NATS JetStream event mirror):
  --with-nats        %v
  --nats-url         %s
  --nats-store       %s
  --nats-autodl      %v
  --nats-bin         %s

Security:
  --rate-limit       %d (requests per minute, 0 disables)

Other:
  --version         show version
  --help            show this help

`, AppName, Version,
		"0.0.0.0", 8000, "http://localhost:8000",
		true, 0, "./data/workspace",
		20, "gpt-4o", "gpt-4o-mini",
		"./data/credentials.json",
		"24h0m0s",
		false, "nats://127.0.0.1:4222", "./data/nats", true, "./bin/nats-server",
		0)
}

// HandleFlags handles version and help flags, exits if needed
func HandleFlags(cfg *Config) {
	if cfg.ShowVersion {
		PrintVersion()
		os.Exit(0)
	}

	if cfg.ShowHelp {
		PrintHelp()
		os.Exit(0)
	}
}
