// ABOUTME: MCP server initialization and configuration for agora.
// ABOUTME: Sets up the server with feed and catalog tools for AI agent access.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/agora/internal/catalog"
	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/storage"
)

// Server wraps the MCP server with the feed controller and its database.
type Server struct {
	mcp     *gomcp.Server
	ctrl    *feed.Controller
	db      storage.Database
	catalog *catalog.Catalog
	now     func() time.Time

	saveIdentity func(name string) error
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithCatalog enables the roadmap and community tools.
func WithCatalog(c *catalog.Catalog) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithIdentitySaver persists the name chosen through the login tool.
func WithIdentitySaver(save func(name string) error) ServerOption {
	return func(s *Server) {
		s.saveIdentity = save
	}
}

// WithClock sets the time source for new posts and relative timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates an MCP server exposing the feed.
func NewServer(ctrl *feed.Controller, db storage.Database, opts ...ServerOption) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("feed controller is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	mcpServer := gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "agora",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcp:  mcpServer,
		ctrl: ctrl,
		db:   db,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerFeedTools()
	if s.catalog != nil {
		s.registerCatalogTools()
	}

	return s, nil
}

// Serve starts the MCP server in stdio mode.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &gomcp.StdioTransport{})
}

func toolError(format string, args ...interface{}) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolText(format string, args ...interface{}) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
