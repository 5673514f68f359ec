package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/config"
	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/server"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/suggest"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools/catalog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools/history"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools/runner"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools/sessions"
	"github.com/tb0hdan/toolpilot-mcp/pkg/tools/suggestions"
)

const (
	ServerName      = "toolpilot-mcp"
	ServiceName     = "Project Tool Catalog and Session MCP Server"
	ShutdownTimeout = 10 * time.Second
)

//go:embed VERSION
var Version string

func main() {
	var (
		configPath   string
		debug        bool
		bindAddr     string
		dbPath       string
		driver       string
		dsn          string
		userID       string
		role         string
		printVersion bool
	)
	flag.StringVar(&configPath, "config", "toolpilot-mcp.toml", "TOML configuration file")
	flag.BoolVar(&debug, "debug", false, "debug mode")
	flag.StringVar(&bindAddr, "bind", "", "bind address (host:port), overrides config")
	flag.StringVar(&dbPath, "db", "", "SQLite database file path, overrides config")
	flag.StringVar(&driver, "driver", "", "storage driver (sqlite or postgres), overrides config")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN, overrides config")
	flag.StringVar(&userID, "user", "", "user that owns sessions, overrides config")
	flag.StringVar(&role, "role", "", "user role, overrides config")
	flag.BoolVar(&printVersion, "version", false, "print version and exit")
	flag.Parse()
	// Sanitize version
	version := strings.TrimSpace(Version)
	if printVersion {
		fmt.Printf("%s Version: %s\n", ServiceName, version)
		os.Exit(0)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	// Flags win over the file.
	overrides := map[*string]string{
		&cfg.Server.Bind:    bindAddr,
		&cfg.Storage.Path:   dbPath,
		&cfg.Storage.Driver: driver,
		&cfg.Storage.DSN:    dsn,
		&cfg.User.ID:        userID,
		&cfg.User.Role:      role,
	}
	for field, value := range overrides {
		if value != "" {
			*field = value
		}
	}
	cfg.Server.Debug = cfg.Server.Debug || debug
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Msgf("Invalid configuration: %v", err)
	}

	if cfg.Server.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logger.Debug().Msg("debug mode enabled")
	}

	impl := &mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}

	// Initialize storage
	store, err := storage.New(storage.Config{
		Driver:       cfg.Storage.Driver,
		DatabasePath: cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		Debug:        cfg.Server.Debug,
	})
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize storage: %v", err)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("Database initialized")

	reg := registry.Default()
	if cfg.Catalog.Path != "" {
		reg, err = registry.LoadFile(cfg.Catalog.Path)
		if err != nil {
			logger.Fatal().Msgf("Failed to load catalog: %v", err)
		}
	}
	logger.Info().Int("tools", len(reg.All())).Msg("Catalog loaded")

	engine := suggest.New(reg)
	if err := engine.Validate(); err != nil {
		logger.Warn().Err(err).Msg("suggestion tables reference unknown tools")
	}

	srv := server.NewServer(impl, store, server.Options{
		Config:   cfg,
		Registry: reg,
		Sessions: session.New(logger, store, session.StaticIdentity(cfg.User.ID)),
		Engine:   engine,
		Logger:   logger,
	})

	toolList := []tools.Tool{
		catalog.New(logger),
		sessions.New(logger),
		runner.New(logger),
		suggestions.New(logger),
		history.New(logger),
	}

	// Register all tools
	for _, tool := range toolList {
		if err := tool.Register(srv); err != nil {
			logger.Error().Msgf("Failed to register tool: %v", err)
		}
	}
	// Stateless mode avoids "session not found" errors after server restart
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return &srv.Server
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})

	http.Handle("/mcp", handler)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"service": ServiceName,
			"version": version,
			"user":    cfg.User.ID,
			"tools":   len(reg.All()),
			"endpoints": map[string]string{
				"mcp": "/mcp",
			},
		})
	})

	bindAddr = cfg.Server.Bind
	logger.Info().Msgf("%s starting on address %s", ServiceName, bindAddr)
	logger.Info().Msgf("MCP endpoint available at: http://%s/mcp", bindAddr)

	go func() {
		//nolint:gosec
		if err := http.ListenAndServe(bindAddr, nil); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Msgf("%s failed to start: %v", ServerName, err)
		}
	}()
	<-signalCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	// Saves the active session, then closes storage.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Msgf("%s shutdown error: %v", ServiceName, err)
	} else {
		logger.Info().Msgf("%s shutdown complete", ServiceName)
	}
}
