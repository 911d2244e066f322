// ABOUTME: Connection validation for a hosted realtime database.
// ABOUTME: Tests the URL and secret with a shallow read of the posts collection.
package tui

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

// ValidateConnection checks that databaseURL is reachable and that secret (if
// any) grants read access to the posts collection. The context allows
// cancellation when the user quits during validation.
func ValidateConnection(ctx context.Context, databaseURL, secret string) error {
	u, err := url.Parse(databaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid database URL %q", databaseURL)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db := storage.NewRemoteDB(databaseURL, secret)
	defer func() { _ = db.Close() }()
	return db.Ping(ctx, models.PostsPath)
}
