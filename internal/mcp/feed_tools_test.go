// ABOUTME: Tests for feed MCP tool handlers.
// ABOUTME: Covers feed reads, interactions, post creation, search, notifications, and catalog tools.
package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

type rejectingDB struct {
	storage.Database
}

func (rejectingDB) Update(context.Context, string, map[string]any) error {
	return errors.New("permission denied")
}

// vanishingDB deletes a post right after a successful update and waits for
// the controller to drop it.
type vanishingDB struct {
	storage.Database
	ctrl *feed.Controller
}

func (v *vanishingDB) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := v.Database.Update(ctx, path, fields); err != nil {
		return err
	}
	if err := v.Database.Set(ctx, path, nil); err != nil {
		return err
	}
	id := strings.TrimPrefix(path, models.PostsPath+"/")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := v.ctrl.Post(id); !ok {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("post never left the cache")
}

func samplePosts() []*models.Post {
	return []*models.Post{
		{ID: "A", AuthorName: "ann", Title: "Alpha", Content: "first", CreatedAt: testNow.Add(-3 * time.Hour), Likes: 5},
		{ID: "B", AuthorName: "bob", Title: "Bravo", Content: "second", CreatedAt: testNow.Add(-time.Hour), Likes: 10},
		{ID: "C", AuthorName: "cat", Title: "Charlie", Content: "third", CreatedAt: testNow.Add(-2 * time.Hour), Likes: 5},
	}
}

func TestLoginValid(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	result := callTool(t, s, "login", map[string]string{"name": "turbo_gecko"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}
	if !strings.Contains(getTextContent(result), "turbo_gecko") {
		t.Errorf("expected name in response, got: %s", getTextContent(result))
	}
	if s.ctrl.Author() != "turbo_gecko" {
		t.Errorf("expected controller author to be set, got %q", s.ctrl.Author())
	}
}

func TestLoginRequiresName(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	result := callTool(t, s, "login", map[string]string{"name": "  "})
	if !result.IsError {
		t.Error("expected error when name is blank")
	}
}

func TestReadFeedTrending(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "read_feed", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}

	text := getTextContent(result)
	if !strings.Contains(text, "Trending feed, 2 of 3 posts") {
		t.Errorf("expected header, got: %s", text)
	}
	if strings.Index(text, "[B]") > strings.Index(text, "[A]") {
		t.Errorf("expected B before A in trending order, got: %s", text)
	}
	if strings.Contains(text, "[C]") {
		t.Errorf("expected C on the second page only, got: %s", text)
	}
	if !strings.Contains(text, "More posts available (pages=2)") {
		t.Errorf("expected more-posts hint, got: %s", text)
	}
}

func TestReadFeedNewestAllPages(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "read_feed", map[string]interface{}{"mode": "newest", "pages": 2})
	text := getTextContent(result)

	b, c, a := strings.Index(text, "[B]"), strings.Index(text, "[C]"), strings.Index(text, "[A]")
	if b < 0 || c < 0 || a < 0 || b > c || c > a {
		t.Errorf("expected newest order B, C, A, got: %s", text)
	}
	if strings.Contains(text, "More posts available") {
		t.Errorf("expected no more pages, got: %s", text)
	}
}

func TestReadFeedInvalidMode(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "read_feed", map[string]interface{}{"mode": "loudest"})
	if !result.IsError {
		t.Error("expected error for unknown mode")
	}
}

func TestReadFeedBookmarkedEmpty(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "read_feed", map[string]interface{}{"mode": "bookmarked"})
	if getTextContent(result) != "No bookmarked posts." {
		t.Errorf("expected empty bookmarks message, got: %s", getTextContent(result))
	}
}

func TestLikePost(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "like_post", map[string]string{"post_id": "A"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}
	if !strings.Contains(getTextContent(result), "6 likes") {
		t.Errorf("expected incremented count, got: %s", getTextContent(result))
	}

	result = callTool(t, s, "like_post", map[string]string{"post_id": "A"})
	if !strings.Contains(getTextContent(result), "6 likes") {
		t.Errorf("expected second like to be a no-op, got: %s", getTextContent(result))
	}
}

func TestLikePostErrors(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	if result := callTool(t, s, "like_post", map[string]string{}); !result.IsError {
		t.Error("expected error without post_id")
	}
	result := callTool(t, s, "like_post", map[string]string{"post_id": "missing"})
	if !result.IsError || !strings.Contains(getTextContent(result), "not found") {
		t.Errorf("expected not found error, got: %s", getTextContent(result))
	}
}

func TestLikePostWriteFailure(t *testing.T) {
	s := makeFeedServer(t, rejectingDB{Database: newMemoryDB(t)}, samplePosts()...)

	result := callTool(t, s, "like_post", map[string]string{"post_id": "A"})
	if !result.IsError {
		t.Fatal("expected error when the write is rejected")
	}
	if !strings.Contains(getTextContent(result), "rolled back") {
		t.Errorf("expected rollback notice, got: %s", getTextContent(result))
	}
	if p, _ := s.ctrl.Post("A"); p.Likes != 5 {
		t.Errorf("expected likes reverted to 5, got %d", p.Likes)
	}
}

func TestLikePostWhenPostVanishesAfterWrite(t *testing.T) {
	vdb := &vanishingDB{Database: newMemoryDB(t)}
	s := makeFeedServer(t, vdb, samplePosts()...)
	vdb.ctrl = s.ctrl

	result := callTool(t, s, "like_post", map[string]string{"post_id": "A"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}
	if got := getTextContent(result); got != "Liked A" {
		t.Errorf("expected id-only response, got: %s", got)
	}
}

func TestReadFeedLeavesControllerModeAlone(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	callTool(t, s, "read_feed", map[string]interface{}{"mode": "newest", "pages": 2})
	if s.ctrl.Mode() != models.ModeTrending {
		t.Errorf("expected controller mode to stay trending, got %s", s.ctrl.Mode())
	}
	if s.ctrl.Page() != 1 {
		t.Errorf("expected controller page to stay 1, got %d", s.ctrl.Page())
	}
}

func TestSearchPosts(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "search_posts", map[string]string{"query": "BO"})
	text := getTextContent(result)
	if !strings.Contains(text, "1 posts match") || !strings.Contains(text, "[B]") {
		t.Errorf("expected author match on bob, got: %s", text)
	}
	if strings.Contains(text, "[A]") || strings.Contains(text, "[C]") {
		t.Errorf("expected only B, got: %s", text)
	}

	result = callTool(t, s, "search_posts", map[string]string{"query": "charl"})
	if !strings.Contains(getTextContent(result), "[C]") {
		t.Errorf("expected title match on Charlie, got: %s", getTextContent(result))
	}

	result = callTool(t, s, "search_posts", map[string]string{"query": "zulu"})
	if getTextContent(result) != `No posts match "zulu".` {
		t.Errorf("expected no-match message, got: %s", getTextContent(result))
	}

	if result := callTool(t, s, "search_posts", map[string]string{"query": " "}); !result.IsError {
		t.Error("expected error for blank query")
	}
}

func TestNotificationsAndMarkSeen(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	text := getTextContent(callTool(t, s, "list_notifications", map[string]interface{}{}))
	if !strings.HasPrefix(text, "3 new posts") {
		t.Errorf("expected three new posts, got: %s", text)
	}
	b, c, a := strings.Index(text, "[B]"), strings.Index(text, "[C]"), strings.Index(text, "[A]")
	if b < 0 || c < 0 || a < 0 || b > c || c > a {
		t.Errorf("expected newest first B, C, A, got: %s", text)
	}

	result := callTool(t, s, "mark_seen", map[string]string{"post_id": "B"})
	if got := getTextContent(result); got != "Marked B as seen (2 unseen)" {
		t.Errorf("unexpected mark_seen response: %s", got)
	}
	if strings.Contains(getTextContent(callTool(t, s, "list_notifications", map[string]interface{}{})), "[B]") {
		t.Error("expected B to leave the notifications")
	}

	result = callTool(t, s, "mark_seen", map[string]string{"post_id": "missing"})
	if !result.IsError || !strings.Contains(getTextContent(result), "not found") {
		t.Errorf("expected not found error, got: %s", getTextContent(result))
	}
	if result := callTool(t, s, "mark_seen", map[string]interface{}{}); !result.IsError {
		t.Error("expected error without post_id or all")
	}

	result = callTool(t, s, "mark_seen", map[string]interface{}{"all": true})
	if got := getTextContent(result); got != "Cleared 2 notifications" {
		t.Errorf("unexpected mark-all response: %s", got)
	}
	if got := getTextContent(callTool(t, s, "list_notifications", map[string]interface{}{})); got != "No new posts." {
		t.Errorf("expected empty notifications, got: %s", got)
	}
}

func TestBookmarkPostToggles(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "bookmark_post", map[string]string{"post_id": "C"})
	if !strings.HasPrefix(getTextContent(result), "Bookmarked") {
		t.Errorf("expected bookmark, got: %s", getTextContent(result))
	}

	feedText := getTextContent(callTool(t, s, "read_feed", map[string]interface{}{"mode": "bookmarked"}))
	if !strings.Contains(feedText, "[C]") || !strings.Contains(feedText, "bookmarked") {
		t.Errorf("expected C in bookmarked feed, got: %s", feedText)
	}

	result = callTool(t, s, "bookmark_post", map[string]string{"post_id": "C"})
	if !strings.HasPrefix(getTextContent(result), "Removed bookmark") {
		t.Errorf("expected bookmark removal, got: %s", getTextContent(result))
	}
}

func TestAddComment(t *testing.T) {
	db := newMemoryDB(t)
	s := makeFeedServer(t, db, samplePosts()...)
	callTool(t, s, "login", map[string]string{"name": "ada"})

	result := callTool(t, s, "add_comment", map[string]string{"post_id": "B", "text": "well said"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}

	raw, err := db.Get(context.Background(), models.PostPath("B"))
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	comments := models.DecodePost("B", raw).Comments
	if len(comments) != 1 || comments[0].Author != "ada" || comments[0].Text != "well said" {
		t.Errorf("unexpected stored comments: %+v", comments)
	}
}

func TestAddCommentRequiresText(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t), samplePosts()...)

	result := callTool(t, s, "add_comment", map[string]string{"post_id": "B", "text": "   "})
	if !result.IsError {
		t.Error("expected error for blank comment")
	}
}

func TestCreatePostRequiresLogin(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	result := callTool(t, s, "create_post", map[string]string{
		"title": "Hi", "content": "Hello", "phone": "555",
	})
	if !result.IsError {
		t.Error("expected error when not logged in")
	}
}

func TestCreatePostValid(t *testing.T) {
	db := newMemoryDB(t)
	s := makeFeedServer(t, db)
	callTool(t, s, "login", map[string]string{"name": "turbo_gecko"})

	result := callTool(t, s, "create_post", map[string]string{
		"title": "Hi", "content": "Hello from agora!", "phone": "555",
	})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", getTextContent(result))
	}
	if !strings.Contains(getTextContent(result), "Post created") {
		t.Errorf("expected 'Post created', got: %s", getTextContent(result))
	}

	raw, err := db.Get(context.Background(), models.PostsPath)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	posts, _ := models.DecodePosts(raw)
	if len(posts) != 1 || posts[0].AuthorName != "turbo_gecko" {
		t.Errorf("unexpected stored posts: %+v", posts)
	}
}

func TestCreatePostValidation(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	result := callTool(t, s, "create_post", map[string]string{
		"name": "ann", "title": "Hi", "content": strings.Repeat("x", 501), "phone": "555",
	})
	if !result.IsError || !strings.Contains(getTextContent(result), "too long") {
		t.Errorf("expected content too long error, got: %s", getTextContent(result))
	}
}

func TestListRoadmaps(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	text := getTextContent(callTool(t, s, "list_roadmaps", map[string]string{}))
	if !strings.Contains(text, "# DevOps Roadmap") || !strings.Contains(text, "CI/CD: Jenkins, GitHub Actions, CircleCI") {
		t.Errorf("unexpected roadmaps output: %s", text)
	}
}

func TestListCommunities(t *testing.T) {
	s := makeFeedServer(t, newMemoryDB(t))

	text := getTextContent(callTool(t, s, "list_communities", map[string]string{"platform": "github"}))
	if !strings.Contains(text, "GitHub Stars") || strings.Contains(text, "Discord") {
		t.Errorf("unexpected communities output: %s", text)
	}

	text = getTextContent(callTool(t, s, "list_communities", map[string]string{"platform": "myspace"}))
	if !strings.Contains(text, "No communities") {
		t.Errorf("expected empty result, got: %s", text)
	}
}
