// ABOUTME: Per-device interaction state (likes, bookmarks, seen posts) for the feed.
// ABOUTME: Backed by a local key/value store, serialised as JSON maps under fixed keys.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/2389-research/agora/internal/storage"
)

// Local storage keys for the interaction maps.
const (
	likedKey      = "likedPosts"
	bookmarkedKey = "bookmarkedPosts"
	seenKey       = "seenPosts"
)

// InteractionState is a copy of the interactions recorded on this device.
type InteractionState struct {
	Liked      map[string]bool `json:"liked"`
	Bookmarked map[string]bool `json:"bookmarked"`
	Seen       map[string]bool `json:"seen"`
}

// InteractionStore holds which posts this device has liked, bookmarked or
// seen in its notifications.
type InteractionStore interface {
	Liked(id string) bool
	Bookmarked(id string) bool
	Seen(id string) bool
	SetLiked(id string, liked bool)
	SetBookmarked(id string, bookmarked bool)
	SetSeen(id string, seen bool)

	// Snapshot returns a copy of the current state.
	Snapshot() InteractionState

	// Persist writes the current state to durable storage.
	Persist() error
}

// LocalInteractions keeps interaction state in a storage.LocalStorage.
type LocalInteractions struct {
	store  storage.LocalStorage
	logger log.FieldLogger

	mu         sync.Mutex
	liked      map[string]bool
	bookmarked map[string]bool
	seen       map[string]bool
}

// NewLocalInteractions loads any saved state from store. Unreadable or
// corrupt values are logged and treated as empty.
func NewLocalInteractions(store storage.LocalStorage, logger log.FieldLogger) *LocalInteractions {
	if logger == nil {
		logger = log.StandardLogger()
	}
	li := &LocalInteractions{store: store, logger: logger}
	li.liked = li.load(likedKey)
	li.bookmarked = li.load(bookmarkedKey)
	li.seen = li.load(seenKey)
	return li
}

func (li *LocalInteractions) load(key string) map[string]bool {
	out := make(map[string]bool)

	raw, ok, err := li.store.GetItem(key)
	if err != nil {
		li.logger.WithError(err).WithField("key", key).Warn("Local storage unavailable, starting with empty state")
		return out
	}
	if !ok || raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		li.logger.WithError(err).WithField("key", key).Warn("Discarding corrupt interaction state")
		return make(map[string]bool)
	}
	return lo.PickBy(out, func(_ string, v bool) bool { return v })
}

// Liked reports whether id has been liked on this device.
func (li *LocalInteractions) Liked(id string) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.liked[id]
}

// Bookmarked reports whether id is bookmarked on this device.
func (li *LocalInteractions) Bookmarked(id string) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.bookmarked[id]
}

// Seen reports whether id has been marked seen on this device.
func (li *LocalInteractions) Seen(id string) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.seen[id]
}

// SetLiked records or clears a like.
func (li *LocalInteractions) SetLiked(id string, liked bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	setFlag(li.liked, id, liked)
}

// SetBookmarked records or clears a bookmark.
func (li *LocalInteractions) SetBookmarked(id string, bookmarked bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	setFlag(li.bookmarked, id, bookmarked)
}

// SetSeen records or clears the seen flag.
func (li *LocalInteractions) SetSeen(id string, seen bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	setFlag(li.seen, id, seen)
}

// Snapshot returns a copy of the current state.
func (li *LocalInteractions) Snapshot() InteractionState {
	li.mu.Lock()
	defer li.mu.Unlock()
	return InteractionState{
		Liked:      lo.Assign(li.liked),
		Bookmarked: lo.Assign(li.bookmarked),
		Seen:       lo.Assign(li.seen),
	}
}

// Persist writes every map to local storage.
func (li *LocalInteractions) Persist() error {
	li.mu.Lock()
	items := []struct {
		key  string
		name string
		set  map[string]bool
		raw  []byte
	}{
		{key: likedKey, name: "likes", set: li.liked},
		{key: bookmarkedKey, name: "bookmarks", set: li.bookmarked},
		{key: seenKey, name: "seen posts", set: li.seen},
	}
	for i := range items {
		raw, err := json.Marshal(items[i].set)
		if err != nil {
			li.mu.Unlock()
			return fmt.Errorf("failed to encode %s: %w", items[i].name, err)
		}
		items[i].raw = raw
	}
	li.mu.Unlock()

	for _, it := range items {
		if err := li.store.SetItem(it.key, string(it.raw)); err != nil {
			return fmt.Errorf("failed to save %s: %w", it.name, err)
		}
	}
	return nil
}

func setFlag(m map[string]bool, id string, v bool) {
	if v {
		m[id] = true
		return
	}
	delete(m, id)
}
