// ABOUTME: In-process realtime database used for tests and offline sessions.
// ABOUTME: Keeps JSON records per collection and pushes full snapshots to subscribers.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryDB is a Database held entirely in memory.
type MemoryDB struct {
	pubMu       sync.Mutex // orders snapshot deliveries
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
	closed      bool
	bc          *broadcaster
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		collections: make(map[string]map[string]json.RawMessage),
		bc:          newBroadcaster(),
	}
}

// Subscribe delivers the current value of path and every later change.
func (m *MemoryDB) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if _, _, err := splitPath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	sub, subCtx := newSubscription(ctx)

	m.pubMu.Lock()
	m.bc.add(path, sub)
	sub.deliver(Snapshot{Path: path, Data: m.valueAt(path)})
	m.pubMu.Unlock()

	go func() {
		<-subCtx.Done()
		m.bc.remove(path, sub)
		sub.finish(nil)
	}()
	return sub, nil
}

// Get reads the value at path.
func (m *MemoryDB) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := splitPath(path); err != nil {
		return nil, err
	}
	data := m.valueAt(path)
	if string(data) == "null" {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, nil
}

// Update merges fields into the record at path, creating it if absent.
func (m *MemoryDB) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("update requires a record path, got %q", path)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	merged, err := mergeFields(m.collections[collection][id], fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.put(collection, id, merged)
	m.mu.Unlock()

	m.publish(collection)
	return nil
}

// Set replaces the value at path. A collection path replaces every record.
func (m *MemoryDB) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if id == "" {
		records := make(map[string]json.RawMessage)
		if string(data) != "null" {
			if err := json.Unmarshal(data, &records); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("collection value must be an object: %w", err)
			}
		}
		m.collections[collection] = records
	} else if string(data) == "null" {
		delete(m.collections[collection], id)
	} else {
		m.put(collection, id, data)
	}
	m.mu.Unlock()

	m.publish(collection)
	return nil
}

// Push stores value under a new time-ordered ID.
func (m *MemoryDB) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := newPushID()
	if err != nil {
		return "", err
	}
	if err := m.Set(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// Close ends every subscription.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.bc.closeAll()
	return nil
}

func (m *MemoryDB) put(collection, id string, data json.RawMessage) {
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]json.RawMessage)
	}
	m.collections[collection][id] = data
}

func (m *MemoryDB) valueAt(path string) json.RawMessage {
	collection, id, _ := splitPath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.collections[collection]
	if id != "" {
		if data, ok := records[id]; ok {
			return append(json.RawMessage(nil), data...)
		}
		return json.RawMessage("null")
	}
	return encodeCollection(records)
}

func (m *MemoryDB) publish(collection string) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	for _, p := range m.bc.paths() {
		if c, _, _ := splitPath(p); c == collection {
			m.bc.publish(p, m.valueAt(p))
		}
	}
}

// encodeCollection renders records as a JSON object, or null when empty.
func encodeCollection(records map[string]json.RawMessage) json.RawMessage {
	if len(records) == 0 {
		return json.RawMessage("null")
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := []byte{'{'}
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(id)
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, records[id]...)
	}
	buf = append(buf, '}')
	return buf
}

// newPushID returns a UUIDv7 so generated keys sort in creation order.
func newPushID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}
