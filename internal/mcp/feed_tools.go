// ABOUTME: MCP tool implementations for the community feed.
// ABOUTME: Registers login, feed reads, interactions, post creation, search, and notifications.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
)

const maxFeedPages = 20

func (s *Server) registerFeedTools() {
	s.mcp.AddTool(&gomcp.Tool{
		Name:        "login",
		Description: "Set the name attached to comments and posts you write.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Your display name.", "minLength": 1}
			},
			"required": ["name"]
		}`),
	}, s.handleLogin)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "read_feed",
		Description: "Read the community feed in a given order.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"mode": {"type": "string", "enum": ["trending", "newest", "mostComments", "suggested", "bookmarked"], "description": "Feed order (default: current mode)"},
				"pages": {"type": "number", "description": "Number of pages to reveal (default 1)"}
			}
		}`),
	}, s.handleReadFeed)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "like_post",
		Description: "Like a post. Liking the same post twice has no effect.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"post_id": {"type": "string", "description": "ID of the post to like.", "minLength": 1}
			},
			"required": ["post_id"]
		}`),
	}, s.handleLikePost)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "bookmark_post",
		Description: "Toggle the bookmark on a post.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"post_id": {"type": "string", "description": "ID of the post to bookmark.", "minLength": 1}
			},
			"required": ["post_id"]
		}`),
	}, s.handleBookmarkPost)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "add_comment",
		Description: "Add a comment to a post.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"post_id": {"type": "string", "description": "ID of the post to comment on.", "minLength": 1},
				"text": {"type": "string", "description": "The comment text.", "minLength": 1}
			},
			"required": ["post_id", "text"]
		}`),
	}, s.handleAddComment)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "create_post",
		Description: "Publish a new post to the community feed.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "Post title.", "minLength": 1},
				"content": {"type": "string", "description": "Post body, at most 500 characters.", "minLength": 1, "maxLength": 500},
				"phone": {"type": "string", "description": "Contact phone number (never shown in the feed).", "minLength": 1},
				"image_url": {"type": "string", "description": "Optional image URL."},
				"name": {"type": "string", "description": "Author name (defaults to your login name)."}
			},
			"required": ["title", "content", "phone"]
		}`),
	}, s.handleCreatePost)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "search_posts",
		Description: "Find posts whose title or author name contains the query, ignoring case.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Text to look for.", "minLength": 1}
			},
			"required": ["query"]
		}`),
	}, s.handleSearchPosts)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "list_notifications",
		Description: "List posts not yet marked seen on this device, newest first.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}, s.handleListNotifications)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "mark_seen",
		Description: "Mark one post, or every post, as seen.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"post_id": {"type": "string", "description": "ID of the post to mark seen."},
				"all": {"type": "boolean", "description": "Mark every post seen."}
			}
		}`),
	}, s.handleMarkSeen)
}

func (s *Server) handleLogin(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	name := strings.TrimSpace(args.Name)
	if name == "" {
		return toolError("name is required"), nil
	}

	s.ctrl.SetAuthor(name)
	if s.saveIdentity != nil {
		if err := s.saveIdentity(name); err != nil {
			return toolError("logged in as %s but failed to save identity: %v", name, err), nil
		}
	}
	return toolText("Logged in as %s", name), nil
}

func (s *Server) handleReadFeed(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Mode  string `json:"mode"`
		Pages int    `json:"pages"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
	}

	mode := s.ctrl.Mode()
	if args.Mode != "" {
		parsed, err := models.ParseFilterMode(args.Mode)
		if err != nil {
			return toolError("%v", err), nil
		}
		mode = parsed
	}
	page, err := s.ctrl.Snapshot(mode, min(max(args.Pages, 1), maxFeedPages))
	if err != nil {
		return toolError("%v", err), nil
	}

	if page.Loading {
		return toolText("Feed is still loading, try again shortly."), nil
	}
	if len(page.Posts) == 0 {
		if mode == models.ModeBookmarked {
			return toolText("No bookmarked posts."), nil
		}
		return toolText("No posts found."), nil
	}

	now := s.now()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s feed, %d of %d posts\n", mode.Label(), len(page.Posts), page.Total))
	for _, p := range page.Posts {
		writePost(&sb, p, page.State, now)
	}
	if page.HasMore {
		sb.WriteString(fmt.Sprintf("---\nMore posts available (pages=%d).\n", page.Page+1))
	}

	return toolText("%s", sb.String()), nil
}

func (s *Server) handleLikePost(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	id, errResult := postIDArg(req)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.ctrl.Like(ctx, id); err != nil {
		return feedError("like", err), nil
	}
	p, ok := s.ctrl.Post(id)
	if !ok {
		return toolText("Liked %s", id), nil
	}
	return toolText("Liked %s (%d likes)", id, p.Likes), nil
}

func (s *Server) handleBookmarkPost(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	id, errResult := postIDArg(req)
	if errResult != nil {
		return errResult, nil
	}

	bookmarked, err := s.ctrl.Bookmark(id)
	if err != nil {
		return feedError("bookmark", err), nil
	}
	if bookmarked {
		return toolText("Bookmarked %s", id), nil
	}
	return toolText("Removed bookmark from %s", id), nil
}

func (s *Server) handleAddComment(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		PostID string `json:"post_id"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if args.PostID == "" {
		return toolError("post_id is required"), nil
	}
	if strings.TrimSpace(args.Text) == "" {
		return toolError("text is required"), nil
	}

	if err := s.ctrl.AddComment(ctx, args.PostID, args.Text); err != nil {
		return feedError("comment", err), nil
	}
	return toolText("Comment added to %s", args.PostID), nil
}

func (s *Server) handleCreatePost(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Title    string `json:"title"`
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	name := args.Name
	if name == "" {
		name = s.ctrl.Author()
	}
	if name == "" {
		return toolError("not logged in - use the login tool first or pass a name"), nil
	}

	id, err := feed.Compose(ctx, s.db, models.PostDraft{
		Name:     name,
		Phone:    args.Phone,
		Title:    args.Title,
		Content:  args.Content,
		ImageURL: args.ImageURL,
	}, s.now())
	if err != nil {
		return feedError("create post", err), nil
	}
	return toolText("Post created (ID: %s)", id), nil
}

func (s *Server) handleSearchPosts(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return toolError("query is required"), nil
	}

	matches := s.ctrl.Search(args.Query)
	if len(matches) == 0 {
		return toolText("No posts match %q.", args.Query), nil
	}

	state := s.ctrl.State()
	now := s.now()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d posts match %q\n", len(matches), args.Query))
	for _, p := range matches {
		writePost(&sb, p, state, now)
	}
	return toolText("%s", sb.String()), nil
}

func (s *Server) handleListNotifications(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	unseen := s.ctrl.Notifications()
	if len(unseen) == 0 {
		return toolText("No new posts."), nil
	}

	now := s.now()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d new posts\n", len(unseen)))
	for _, p := range unseen {
		sb.WriteString(fmt.Sprintf("[%s] %s by @%s · %s\n", p.ID, p.Title, p.AuthorName, models.TimeAgo(p.CreatedAt, now)))
	}
	return toolText("%s", sb.String()), nil
}

func (s *Server) handleMarkSeen(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		PostID string `json:"post_id"`
		All    bool   `json:"all"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
	}

	switch {
	case args.All:
		n := s.ctrl.MarkAllSeen()
		return toolText("Cleared %d notifications", n), nil
	case args.PostID == "":
		return toolError("post_id or all is required"), nil
	}
	if err := s.ctrl.MarkSeen(args.PostID); err != nil {
		return feedError("mark seen", err), nil
	}
	return toolText("Marked %s as seen (%d unseen)", args.PostID, s.ctrl.UnseenCount()), nil
}

func writePost(sb *strings.Builder, p *models.Post, state feed.InteractionState, now time.Time) {
	sb.WriteString(fmt.Sprintf("---\n[%s] @%s · %s · %d likes · %d comments", p.ID, p.AuthorName, models.TimeAgo(p.CreatedAt, now), p.Likes, len(p.Comments)))
	if state.Liked[p.ID] {
		sb.WriteString(" · liked")
	}
	if state.Bookmarked[p.ID] {
		sb.WriteString(" · bookmarked")
	}
	sb.WriteString(fmt.Sprintf("\n%s\n%s\n", p.Title, p.Content))
	if p.ImageURL != "" && !strings.HasPrefix(p.ImageURL, "data:") {
		sb.WriteString(fmt.Sprintf("image: %s\n", p.ImageURL))
	}
	for _, c := range p.Comments {
		sb.WriteString(fmt.Sprintf("  > %s: %s\n", c.Author, c.Text))
	}
}

func postIDArg(req *gomcp.CallToolRequest) (string, *gomcp.CallToolResult) {
	var args struct {
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return "", toolError("invalid arguments: %v", err)
	}
	if args.PostID == "" {
		return "", toolError("post_id is required")
	}
	return args.PostID, nil
}

func feedError(action string, err error) *gomcp.CallToolResult {
	switch {
	case errors.Is(err, feed.ErrPostNotFound):
		return toolError("failed to %s: post not found", action)
	case errors.Is(err, feed.ErrWriteFailed):
		return toolError("failed to %s, the change was rolled back and can be retried: %v", action, err)
	}
	return toolError("failed to %s: %v", action, err)
}
