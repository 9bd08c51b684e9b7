// Package nats runs an embedded nats-server child process and mirrors
// task events onto a JetStream stream. The whole package is optional:
// nothing here is touched unless the server starts with --with-nats.
package nats

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Server manages a local nats-server instance with JetStream enabled.
// When a server is already reachable at the configured URL it is used
// as-is instead of spawning a child process.
type Server struct {
	binPath  string
	storeDir string
	url      string

	mu      sync.Mutex
	cmd     *exec.Cmd
	nc      *nats.Conn
	js      jetstream.JetStream
	running bool
}

// ServerConfig holds configuration for the embedded server.
type ServerConfig struct {
	BinPath  string
	StoreDir string
	URL      string
	AutoDL   bool
}

// NewServer resolves the nats-server binary and returns a manager for
// it. The server itself is not started yet.
func NewServer(cfg ServerConfig) (*Server, error) {
	binPath, err := EnsureBinary(cfg.BinPath, cfg.AutoDL)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure nats-server binary: %w", err)
	}
	return &Server{
		binPath:  binPath,
		storeDir: cfg.StoreDir,
		url:      cfg.URL,
	}, nil
}

// Start launches the server unless one is already reachable at the
// configured URL, then connects and opens a JetStream context.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	host, port, err := splitURL(s.url)
	if err != nil {
		return err
	}

	if reachable(host, port) {
		log.Printf("Using NATS server already running at %s", s.url)
	} else {
		absStore, err := filepath.Abs(s.storeDir)
		if err != nil {
			return fmt.Errorf("failed to resolve store dir: %w", err)
		}
		if err := os.MkdirAll(absStore, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}

		s.cmd = exec.CommandContext(ctx, s.binPath,
			"-js",
			"-sd", absStore,
			"-a", host,
			"-p", port,
		)
		s.cmd.Stdout = os.Stdout
		s.cmd.Stderr = os.Stderr
		if err := s.cmd.Start(); err != nil {
			s.cmd = nil
			return fmt.Errorf("failed to start nats-server: %w", err)
		}
		if err := waitReachable(ctx, host, port, 10*time.Second); err != nil {
			s.stopProcess()
			return err
		}
		log.Printf("NATS server started at %s with JetStream enabled", s.url)
	}

	if err := s.connect(); err != nil {
		s.stopProcess()
		return err
	}
	s.running = true
	return nil
}

// Stop closes the connection and kills the child process if this
// instance spawned one.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running && s.cmd == nil {
		return nil
	}

	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.js = nil
	s.stopProcess()
	s.running = false

	log.Println("NATS server stopped")
	return nil
}

// GetJetStream returns the JetStream context, nil before Start.
func (s *Server) GetJetStream() jetstream.JetStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.js
}

// stopProcess kills the child process. Callers hold s.mu.
func (s *Server) stopProcess() {
	if s.cmd == nil || s.cmd.Process == nil {
		s.cmd = nil
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		log.Printf("Warning: failed to kill nats-server process: %v", err)
	}
	if err := s.cmd.Wait(); err != nil {
		log.Printf("Warning: nats-server process exited: %v", err)
	}
	s.cmd = nil
}

func (s *Server) connect() error {
	nc, err := nats.Connect(s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s.nc = nc
	s.js = js
	return nil
}

func reachable(host, port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitReachable polls until the server accepts TCP connections.
func waitReachable(ctx context.Context, host, port string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reachable(host, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("nats-server not reachable at %s:%s after %s", host, port, timeout)
}

func splitURL(natsURL string) (host, port string, err error) {
	trimmed := strings.TrimPrefix(natsURL, "nats://")
	host, port, err = net.SplitHostPort(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("invalid NATS URL %q: %w", natsURL, err)
	}
	return host, port, nil
}
