// ABOUTME: Post authoring: validates a draft and creates the post record.
// ABOUTME: Local image files are inlined as data URIs before upload.
package feed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389-research/agora/internal/metrics"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

// MaxImageBytes caps an inlined image file.
const MaxImageBytes = 5 << 20

var (
	// ErrMissingField is returned when a required draft field is blank.
	ErrMissingField = errors.New("missing required field")

	// ErrContentTooLong is returned when post content exceeds models.MaxContentLength runes.
	ErrContentTooLong = errors.New("content too long")
)

// ValidateDraft checks a draft without touching the database.
func ValidateDraft(draft models.PostDraft) error {
	required := []struct {
		name  string
		value string
	}{
		{"name", draft.Name},
		{"phone", draft.Phone},
		{"title", draft.Title},
		{"content", draft.Content},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	if n := utf8.RuneCountInString(draft.Content); n > models.MaxContentLength {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrContentTooLong, n, models.MaxContentLength)
	}
	return nil
}

// Compose validates draft and creates it in the posts collection, returning
// the generated ID.
func Compose(ctx context.Context, db storage.Database, draft models.PostDraft, now time.Time) (string, error) {
	if err := ValidateDraft(draft); err != nil {
		return "", err
	}

	image, err := resolveImage(draft.ImageURL)
	if err != nil {
		return "", err
	}
	draft.ImageURL = image

	post := models.NewPost(draft, now)
	id, err := db.Push(ctx, models.PostsPath, post.Record())
	if err != nil {
		return "", fmt.Errorf("create post: %w: %w", ErrWriteFailed, err)
	}
	metrics.PostsCreated.Inc()
	return id, nil
}

// resolveImage passes URLs through and inlines local files.
func resolveImage(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return ref, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}
	if info.Size() > MaxImageBytes {
		return "", fmt.Errorf("image %s is %d bytes, limit is %d", ref, info.Size(), MaxImageBytes)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", ref, mimeType)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
