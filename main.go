package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solverhub/solver-node/internal/component"
	"github.com/solverhub/solver-node/internal/config"
	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/coordinate"
	"github.com/solverhub/solver-node/internal/inference"
	"github.com/solverhub/solver-node/internal/logging"
	"github.com/solverhub/solver-node/internal/playbook"
	"github.com/solverhub/solver-node/internal/scheduler"
	"github.com/solverhub/solver-node/internal/search"
	"github.com/solverhub/solver-node/internal/server"
	"github.com/solverhub/solver-node/internal/solutions"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := logging.WithComponent("main")
	logger.Info("Starting Solver Node", "version", version)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.Logging.Level)
	logger.Info("Configuration loaded", "node", cfg.Node.Name, "role", cfg.Node.Role)

	ctx := context.Background()

	// Open conversation history store
	convs, err := conversation.Open(conversation.Options{
		Dir:         cfg.Conversation.Path,
		MaxMessages: cfg.Conversation.MaxMessages,
		MaxAgeDays:  cfg.Conversation.MaxAgeDays,
	})
	if err != nil {
		logger.Error("Failed to open conversation store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := convs.Close(); err != nil {
			logger.Error("Failed to close conversation store", "error", err)
		}
	}()

	// Initialize inference router
	engines, err := inference.NewRouter(&cfg.Inference)
	if err != nil {
		logger.Error("Failed to create inference router", "error", err)
		os.Exit(1)
	}

	// Check inference engine health
	healthCtx, cancelHealth := context.WithTimeout(ctx, 10*time.Second)
	for name, err := range engines.Health(healthCtx) {
		if err != nil {
			logger.Error("Inference engine error", "engine", name, "error", err)
		} else {
			logger.Info("Inference engine OK", "engine", name)
		}
	}
	cancelHealth()

	// Connect to the shared solution store. Solution sharing degrades
	// gracefully when Redis is unreachable, so failures only warn.
	store := solutions.New(solutions.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Namespace: cfg.Redis.Namespace,
		TTL:       cfg.Redis.GetSolutionTTL(),
	})
	store.Connect(ctx)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close solution store", "error", err)
		}
	}()

	var coordStore coordinate.Store
	if cfg.Redis.Addr != "" {
		coordStore = store
	}
	coordinator := coordinate.NewRouter(cfg.Node.Role, coordStore,
		cfg.Redis.GetWaitTimeout(), cfg.Redis.GetPollInterval())

	// Playbook shares the conversation database
	pb, err := playbook.NewService(convs.DB(), func(ctx context.Context, system, prompt string) (string, error) {
		res, err := engines.Generate(ctx, "", &inference.Request{
			Prompt:      prompt,
			System:      system,
			Temperature: 0.3,
		})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	})
	if err != nil {
		logger.Error("Failed to initialize playbook", "error", err)
		os.Exit(1)
	}

	// Internet search is optional
	var searcher *search.Client
	if cfg.Search.GoogleAPIKey != "" && cfg.Search.GoogleCX != "" {
		searcher, err = search.NewClient(cfg.Search.GoogleAPIKey, cfg.Search.GoogleCX)
		if err != nil {
			logger.Error("Failed to create search client", "error", err)
			os.Exit(1)
		}
		logger.Info("Internet search enabled")
	} else {
		logger.Info("Internet search disabled, no Google credentials configured")
	}

	runner := component.NewRunner(component.RunnerOptions{
		Generator:     engines,
		Conversations: convs,
		Playbook:      pb,
		Searcher:      searcher,
		Coordinator:   coordinator,
	})

	// Initialize scheduler
	sched, err := scheduler.NewScheduler(convs)
	if err != nil {
		logger.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()

	// Create HTTP server
	srv := server.New(server.Options{
		Config:        cfg,
		Runner:        runner,
		Conversations: convs,
		Playbook:      pb,
		Engines:       engines,
		Solutions:     store,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error("Server error", "error", err)
	case sig := <-quit:
		logger.Info("Received signal", "signal", sig.String())
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Stopping scheduler")
	sched.Stop()

	logger.Info("Stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}
