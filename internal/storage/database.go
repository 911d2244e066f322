// ABOUTME: Interface definition for the realtime database capability.
// ABOUTME: Defines snapshots, subscriptions, and the point read/write contract.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when nothing is stored at a path.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database closed")

// Snapshot is a full image of the value stored at a subscribed path.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// Database is a hosted realtime database. Paths are slash separated:
// "posts" names a collection and "posts/{id}" a record within it.
type Database interface {
	// Subscribe delivers a full snapshot of path now and after every change.
	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// Get reads the value at path. Returns ErrNotFound when empty.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Update writes the named fields of the record at path, leaving others intact.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Set replaces (or creates) the value at path.
	Set(ctx context.Context, path string, value any) error

	// Push creates a record under a collection path and returns its generated ID.
	Push(ctx context.Context, path string, value any) (string, error)

	// Close releases any resources held by the database.
	Close() error
}

// Subscription is a live feed of snapshots for one path. Only the most recent
// undelivered snapshot is kept: each one is a full image, so older ones are
// superseded.
type Subscription struct {
	ch     chan Snapshot
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func newSubscription(ctx context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		ch:     make(chan Snapshot, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}, ctx
}

// Snapshots returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and closes the snapshot channel.
func (s *Subscription) Close() {
	s.finish(nil)
}

// deliver replaces any pending snapshot with snap.
func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.err = err
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.done)
	})
}

// splitPath separates a path into its collection and optional record ID.
func splitPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", fmt.Errorf("empty path")
	}
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[1] == "" {
			return "", "", fmt.Errorf("invalid path %q", path)
		}
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("path %q is nested deeper than collection/record", path)
}

// mergeFields applies a partial update to a JSON object record.
func mergeFields(record json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(record) > 0 {
		if err := json.Unmarshal(record, &obj); err != nil {
			obj = make(map[string]json.RawMessage)
		}
	}
	for name, value := range fields {
		if value == nil {
			delete(obj, name)
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", name, err)
		}
		obj[name] = data
	}
	return json.Marshal(obj)
}

// broadcaster fans collection snapshots out to subscribers.
type broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]map[*Subscription]struct{})}
}

func (b *broadcaster) add(path string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[path] == nil {
		b.subs[path] = make(map[*Subscription]struct{})
	}
	b.subs[path][sub] = struct{}{}
}

func (b *broadcaster) remove(path string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[path], sub)
}

func (b *broadcaster) paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for p, subs := range b.subs {
		if len(subs) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func (b *broadcaster) publish(path string, data json.RawMessage) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs[path]))
	for s := range b.subs[path] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(Snapshot{Path: path, Data: data})
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	var subs []*Subscription
	for _, set := range b.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.finish(ErrClosed)
	}
}
