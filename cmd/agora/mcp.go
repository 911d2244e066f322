// ABOUTME: MCP server command implementation for agora.
// ABOUTME: Starts the MCP server in stdio mode for AI agent integration.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/catalog"
	"github.com/2389-research/agora/internal/config"
	mcppkg "github.com/2389-research/agora/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server (stdio mode)",
	Long: `Start the Model Context Protocol server for AI agent integration.

The MCP server communicates via stdio, allowing AI agents to read the feed,
like, bookmark, comment, and post through a standardized protocol.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	server, err := mcppkg.NewServer(globalController, globalDB,
		mcppkg.WithCatalog(cat),
		mcppkg.WithIdentitySaver(func(name string) error {
			return config.Update(func(c *config.Config) { c.Identity.Name = name })
		}),
	)
	if err != nil {
		return err
	}

	return server.Serve(cmd.Context())
}
