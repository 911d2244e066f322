// ABOUTME: Core data models for feed posts, comments, and filter modes.
// ABOUTME: Provides constructors, the realtime-database wire format, and display helpers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Field names used for partial writes against a post record.
const (
	FieldLikes    = "likes"
	FieldComments = "comments"
)

// PostsPath is the collection path every post lives under.
const PostsPath = "posts"

// MaxContentLength caps the body of a new post, in runes.
const MaxContentLength = 500

// AnonymousAuthor labels comments written without an identity.
const AnonymousAuthor = "anonymous"

// Post is a community feed post.
type Post struct {
	ID         string
	AuthorName string
	Phone      string
	Title      string
	Content    string
	ImageURL   string
	CreatedAt  time.Time
	Likes      int
	Comments   []Comment
}

// Comment is a reply appended to a post. Comments are never edited.
type Comment struct {
	Text      string
	Author    string
	CreatedAt time.Time
}

// PostDraft holds the fields a user fills in when authoring a post.
type PostDraft struct {
	Name     string
	Phone    string
	Title    string
	Content  string
	ImageURL string
}

// NewPost builds an unsaved post from a draft. The ID is left empty because
// the data source assigns it.
func NewPost(draft PostDraft, now time.Time) *Post {
	return &Post{
		AuthorName: draft.Name,
		Phone:      draft.Phone,
		Title:      draft.Title,
		Content:    draft.Content,
		ImageURL:   draft.ImageURL,
		CreatedAt:  now,
		Likes:      0,
		Comments:   []Comment{},
	}
}

// NewComment creates a comment stamped with the given time.
func NewComment(text, author string, now time.Time) Comment {
	if strings.TrimSpace(author) == "" {
		author = AnonymousAuthor
	}
	return Comment{Text: text, Author: author, CreatedAt: now}
}

// Clone returns a deep copy so callers can mutate it without touching the cache.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Comments = append([]Comment(nil), p.Comments...)
	return &cp
}

// PostPath returns the record path for a post ID.
func PostPath(id string) string {
	return PostsPath + "/" + id
}

// FilterMode selects how the feed view is derived from the post list.
type FilterMode string

// Supported filter modes.
const (
	ModeTrending     FilterMode = "trending"
	ModeNewest       FilterMode = "newest"
	ModeMostComments FilterMode = "mostComments"
	ModeSuggested    FilterMode = "suggested"
	ModeBookmarked   FilterMode = "bookmarked"
)

// FilterModes lists every mode in menu order.
var FilterModes = []FilterMode{
	ModeTrending,
	ModeNewest,
	ModeMostComments,
	ModeSuggested,
	ModeBookmarked,
}

// ParseFilterMode resolves a user-supplied mode name.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trending":
		return ModeTrending, nil
	case "newest":
		return ModeNewest, nil
	case "mostcomments", "most-comments", "most_comments":
		return ModeMostComments, nil
	case "suggested":
		return ModeSuggested, nil
	case "bookmarked", "bookmarks":
		return ModeBookmarked, nil
	}
	return "", fmt.Errorf("unknown filter mode %q", s)
}

// Label returns the menu label for a mode.
func (m FilterMode) Label() string {
	switch m {
	case ModeTrending:
		return "Trending"
	case ModeNewest:
		return "Newest"
	case ModeMostComments:
		return "Most Comments"
	case ModeSuggested:
		return "Suggested"
	case ModeBookmarked:
		return "Bookmarked"
	}
	return string(m)
}

// TimeAgo renders the age of t relative to now, e.g. "3 hours ago".
// A unit is used only once the age exceeds one whole unit.
func TimeAgo(t, now time.Time) string {
	seconds := now.Sub(t).Seconds()

	units := []struct {
		size float64
		name string
	}{
		{31536000, "years"},
		{2592000, "months"},
		{86400, "days"},
		{3600, "hours"},
		{60, "minutes"},
	}
	for _, u := range units {
		if interval := seconds / u.size; interval > 1 {
			return fmt.Sprintf("%d %s ago", int64(interval), u.name)
		}
	}
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d seconds ago", int64(seconds))
}
