// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the rig's commands and queries as tools, so an agent can operate the
// instrument and read analysis results.
package mcp

import (
	"context"
	"io"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/fluidrig/internal/ratelimit"
	"github.com/nvandessel/fluidrig/internal/rig"
)

// Server wraps the MCP SDK server around one rig.
type Server struct {
	server       *sdk.Server
	rig          *rig.Rig
	logger       *slog.Logger
	auditLogger  *AuditLogger
	toolLimiters ratelimit.ToolLimiters
	allowedDirs  []string
}

// Config holds server configuration.
type Config struct {
	Name     string // Server name (e.g., "fluidrig")
	Version  string
	AuditDir string // directory for audit.jsonl; empty disables auditing
	Logger   *slog.Logger

	// AllowedDirs bounds the files the kd tool may read. Empty means the
	// tool only accepts inline CSV.
	AllowedDirs []string
}

// NewServer creates an MCP server with the rig tools and resources.
func NewServer(rg *rig.Rig, cfg *Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		rig:          rg,
		logger:       logger,
		auditLogger:  NewAuditLogger(cfg.AuditDir),
		toolLimiters: ratelimit.NewToolLimiters(),
		allowedDirs:  cfg.AllowedDirs,
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.auditLogger.Close()
	return err
}

// Close releases the audit log. The rig is owned by the caller.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
