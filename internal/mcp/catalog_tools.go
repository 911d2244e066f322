// ABOUTME: MCP tools for browsing the roadmap and community catalog.
// ABOUTME: Registers list_roadmaps and list_communities.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerCatalogTools() {
	s.mcp.AddTool(&gomcp.Tool{
		Name:        "list_roadmaps",
		Description: "List the learning-path roadmaps with their stages and topics.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}, s.handleListRoadmaps)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "list_communities",
		Description: "List developer communities, optionally for one platform.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"platform": {"type": "string", "description": "Platform filter such as discord, reddit, twitter, github, slack (default: all)"}
			}
		}`),
	}, s.handleListCommunities)
}

func (s *Server) handleListRoadmaps(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var sb strings.Builder
	for _, r := range s.catalog.Roadmaps {
		sb.WriteString(fmt.Sprintf("# %s\n", r.Title))
		for i, stage := range r.Stages {
			sb.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, stage.Title, strings.Join(stage.Topics, ", ")))
		}
	}
	return toolText("%s", sb.String()), nil
}

func (s *Server) handleListCommunities(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Platform string `json:"platform"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
	}

	platforms := s.catalog.Communities(args.Platform)
	if len(platforms) == 0 {
		return toolText("No communities found for %q.", args.Platform), nil
	}

	var sb strings.Builder
	for _, p := range platforms {
		sb.WriteString(fmt.Sprintf("# %s\n", p.Name))
		for _, c := range p.Communities {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", c.Name, c.Link, c.Description))
		}
	}
	return toolText("%s", sb.String()), nil
}
