// ABOUTME: Tests for CLI feed rendering and database backend selection.
// ABOUTME: Uses an in-memory database and a temporary sqlite file.
package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389-research/agora/internal/config"
	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPrintFeed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := storage.NewMemoryDB()
	defer func() { _ = db.Close() }()

	p := models.NewPost(models.PostDraft{Name: "Ada", Title: "Hello", Content: "First post"}, now.Add(-3*time.Hour))
	p.Likes = 2
	p.Comments = []models.Comment{models.NewComment("welcome", "Bo", now)}
	require.NoError(t, db.Set(ctx, models.PostPath("p1"), p.Record()))

	ctrl, err := feed.New(ctx, db, feed.NewLocalInteractions(storage.NewMemoryLocalStorage(), quietLogger()),
		feed.WithLogger(quietLogger()))
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()
	require.NoError(t, waitForFeed(ctx, ctrl, 2*time.Second))

	_, err = ctrl.Bookmark("p1")
	require.NoError(t, err)

	var out bytes.Buffer
	printFeed(&out, ctrl, now)
	text := out.String()
	assert.Contains(t, text, "--- Hello [p1] @Ada, 3 hours ago (bookmarked)")
	assert.Contains(t, text, "2 likes, 1 comments")
	assert.Contains(t, text, "  > Bo: welcome")
	assert.Contains(t, text, "Trending: showing 1 of 1")

	require.NoError(t, ctrl.SetFilterMode(models.ModeBookmarked))
	on, err := ctrl.Bookmark("p1")
	require.NoError(t, err)
	require.False(t, on)

	out.Reset()
	printFeed(&out, ctrl, now)
	assert.Equal(t, "No bookmarked posts.\n", out.String())
}

func TestOpenDatabaseBackends(t *testing.T) {
	logger := quietLogger()

	db, err := openDatabase(&config.Config{Database: config.DatabaseConfig{Backend: config.BackendMemory}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryDB{}, db)
	_ = db.Close()

	path := filepath.Join(t.TempDir(), "nested", "agora.db")
	db, err = openDatabase(&config.Config{Database: config.DatabaseConfig{SQLitePath: path}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteDB{}, db)
	_ = db.Close()

	db, err = openDatabase(&config.Config{Database: config.DatabaseConfig{URL: "https://example.firebaseio.com"}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &storage.RemoteDB{}, db)
	_ = db.Close()
}
