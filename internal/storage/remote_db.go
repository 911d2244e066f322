// ABOUTME: HTTP client for a hosted realtime database speaking the Firebase REST protocol.
// ABOUTME: Point reads/writes over JSON and a reconnecting event-stream subscription.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/2389-research/agora/internal/metrics"
)

// maxEventSize bounds a single event-stream line. Snapshots can carry inline images.
const maxEventSize = 64 << 20

// errStreamRevoked ends a subscription without reconnecting.
var errStreamRevoked = errors.New("subscription revoked by server")

// RemoteDB talks to a hosted realtime database over its REST API.
type RemoteDB struct {
	baseURL string
	secret  string
	client  *http.Client
	stream  *http.Client
	logger  log.FieldLogger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// RemoteOption configures a RemoteDB.
type RemoteOption func(*RemoteDB)

// WithRemoteLogger sets the logger used for stream diagnostics.
func WithRemoteLogger(l log.FieldLogger) RemoteOption {
	return func(r *RemoteDB) {
		r.logger = l
	}
}

// WithReconnectBackoff overrides the reconnect backoff bounds.
func WithReconnectBackoff(initial, maxWait time.Duration) RemoteOption {
	return func(r *RemoteDB) {
		r.initialBackoff = initial
		r.maxBackoff = maxWait
	}
}

// NewRemoteDB creates a client for the database at baseURL, authenticating
// with secret when it is non-empty.
func NewRemoteDB(baseURL, secret string, opts ...RemoteOption) *RemoteDB {
	r := &RemoteDB{
		baseURL:        strings.TrimRight(baseURL, "/"),
		secret:         secret,
		client:         &http.Client{Timeout: 30 * time.Second},
		stream:         &http.Client{},
		logger:         log.StandardLogger(),
		initialBackoff: 250 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// endpoint returns the REST URL for path with optional extra query values.
func (r *RemoteDB) endpoint(path string, query url.Values) string {
	u := r.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if query == nil {
		query = url.Values{}
	}
	if r.secret != "" {
		query.Set("auth", r.secret)
	}
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (r *RemoteDB) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint(path, nil), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote database request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("remote database returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Get reads the value at path.
func (r *RemoteDB) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, nil
}

// Update writes the named fields with a PATCH.
func (r *RemoteDB) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.do(ctx, http.MethodPatch, path, fields)
	return err
}

// Set replaces the value at path with a PUT.
func (r *RemoteDB) Set(ctx context.Context, path string, value any) error {
	_, err := r.do(ctx, http.MethodPut, path, value)
	return err
}

// pushResponse is the body returned by POST on a collection.
type pushResponse struct {
	Name string `json:"name"`
}

// Push creates a record with a server-generated key.
func (r *RemoteDB) Push(ctx context.Context, path string, value any) (string, error) {
	data, err := r.do(ctx, http.MethodPost, path, value)
	if err != nil {
		return "", err
	}
	var resp pushResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode push response: %w", err)
	}
	if resp.Name == "" {
		return "", fmt.Errorf("push response carried no key")
	}
	return resp.Name, nil
}

// Ping performs a shallow read of path to check the URL and credentials.
func (r *RemoteDB) Ping(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(path, url.Values{"shallow": {"true"}}), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("database returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Close releases idle connections.
func (r *RemoteDB) Close() error {
	r.client.CloseIdleConnections()
	r.stream.CloseIdleConnections()
	return nil
}

// streamEvent is the data payload of put and patch events.
type streamEvent struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Subscribe opens an event stream on path. Every put or patch results in a
// full snapshot: a root put carries it directly, anything else triggers a
// re-read. Dropped streams reconnect with exponential backoff.
func (r *RemoteDB) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	sub, subCtx := newSubscription(ctx)

	go func() {
		err := r.streamLoop(subCtx, path, sub)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		sub.finish(err)
	}()
	return sub, nil
}

func (r *RemoteDB) streamLoop(ctx context.Context, path string, sub *Subscription) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialBackoff
	bo.MaxInterval = r.maxBackoff
	bo.MaxElapsedTime = 0 // Never stop retrying

	logger := r.logger.WithField("path", path)

	for {
		connected, err := r.streamOnce(ctx, path, sub)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errStreamRevoked) {
			logger.WithError(err).Warn("Subscription ended by server")
			return err
		}
		if connected {
			bo.Reset()
		}

		metrics.SubscriptionReconnects.Inc()
		wait := bo.NextBackOff()
		logger.WithError(err).WithField("retry_in", wait).Warn("Subscription stream dropped, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// streamOnce consumes one event-stream connection until it fails.
// connected reports whether the server accepted the stream.
func (r *RemoteDB) streamOnce(ctx context.Context, path string, sub *Subscription) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(path, nil), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("stream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return false, fmt.Errorf("%w: %d %s", errStreamRevoked, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return false, fmt.Errorf("stream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" {
				if err := r.handleEvent(ctx, path, event, data.String(), sub); err != nil {
					return true, err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("stream read failed: %w", err)
	}
	return true, io.ErrUnexpectedEOF
}

func (r *RemoteDB) handleEvent(ctx context.Context, path, event, data string, sub *Subscription) error {
	switch event {
	case "keep-alive":
		return nil
	case "cancel", "auth_revoked":
		return fmt.Errorf("%w: %s", errStreamRevoked, event)
	case "put", "patch":
	default:
		r.logger.WithField("event", event).Debug("Ignoring unknown stream event")
		return nil
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", event, err)
	}

	if event == "put" && ev.Path == "/" {
		snap := ev.Data
		if len(snap) == 0 {
			snap = json.RawMessage("null")
		}
		sub.deliver(Snapshot{Path: path, Data: snap})
		return nil
	}

	full, err := r.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		full, err = json.RawMessage("null"), nil
	}
	if err != nil {
		return err
	}
	sub.deliver(Snapshot{Path: path, Data: full})
	return nil
}
