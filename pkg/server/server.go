package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/config"
	"github.com/tb0hdan/toolpilot-mcp/pkg/registry"
	"github.com/tb0hdan/toolpilot-mcp/pkg/session"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/suggest"
)

// Options carries the components a Server is built from. Nil fields get defaults.
type Options struct {
	Config   *config.Config
	Registry *registry.Registry
	Sessions *session.Store
	Engine   *suggest.Engine
	Logger   zerolog.Logger
}

type Server struct {
	mcp.Server
	storage  storage.Storage
	config   *config.Config
	registry *registry.Registry
	sessions *session.Store
	engine   *suggest.Engine
}

func NewServer(impl *mcp.Implementation, store storage.Storage, opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.New(opts.Logger, store, session.StaticIdentity(opts.Config.User.ID))
	}
	if opts.Engine == nil {
		opts.Engine = suggest.New(opts.Registry)
	}

	return &Server{
		Server:   *mcp.NewServer(impl, nil),
		storage:  store,
		config:   opts.Config,
		registry: opts.Registry,
		sessions: opts.Sessions,
		engine:   opts.Engine,
	}
}

func (s *Server) Storage() storage.Storage {
	return s.storage
}

func (s *Server) Config() *config.Config {
	return s.config
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) Sessions() *session.Store {
	return s.sessions
}

func (s *Server) Engine() *suggest.Engine {
	return s.engine
}

// UserID is the principal that owns the sessions of this server.
func (s *Server) UserID() string {
	return s.config.User.ID
}

// Shutdown saves the active session and closes storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Close(ctx)
	if s.storage != nil {
		return s.storage.Close()
	}
	return nil
}
