package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultStateTimeout = 10 * time.Second

var (
	ErrMissingEntityID = errors.New("state update without entity id")
	ErrStateRejected   = errors.New("state update rejected")
	ErrStateServer     = errors.New("state store server error")
)

// HTTPStateStore applies subject state updates by PATCHing
// {base}/items/{id} on the backend that owns custody records. Server errors
// are retried with exponential backoff; client errors are not.
type HTTPStateStore struct {
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
	maxRetries uint64
}

type HTTPStateOption func(*HTTPStateStore)

func WithHTTPClient(client *http.Client) HTTPStateOption {
	return func(s *HTTPStateStore) {
		s.client = client
	}
}

func WithMaxRetries(retries uint64) HTTPStateOption {
	return func(s *HTTPStateStore) {
		s.maxRetries = retries
	}
}

func NewHTTPStateStore(baseURL string, logger *slog.Logger, opts ...HTTPStateOption) *HTTPStateStore {
	s := &HTTPStateStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: defaultStateTimeout},
		logger:     logger.With("module", "http_state_store"),
		maxRetries: 3,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *HTTPStateStore) ApplyUpdate(ctx context.Context, entityID string, fields map[string]any) error {
	if entityID == "" {
		return ErrMissingEntityID
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode state update: %w", err)
	}

	endpoint := s.baseURL + "/items/" + url.PathEscape(entityID)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)

	attempt := 0

	return backoff.Retry(func() error {
		attempt++

		err := s.patch(ctx, endpoint, body)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrStateServer), isTransport(err):
			s.logger.WarnContext(ctx, "State update failed, retrying",
				"entity_id", entityID, "attempt", attempt, "error", err)

			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
}

func (s *HTTPStateStore) patch(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build state update request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrStateServer, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", ErrStateRejected, resp.StatusCode)
	default:
		return nil
	}
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "state store request failed: " + e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	var te *transportError

	return errors.As(err, &te)
}

// MemoryStateStore keeps subject state in process. It backs single-node
// development and tests.
type MemoryStateStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]any
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entities: make(map[string]map[string]any)}
}

func (s *MemoryStateStore) ApplyUpdate(_ context.Context, entityID string, fields map[string]any) error {
	if entityID == "" {
		return ErrMissingEntityID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[entityID]
	if !ok {
		entity = make(map[string]any, len(fields))
		s.entities[entityID] = entity
	}

	maps.Copy(entity, fields)

	return nil
}

// State returns a copy of the fields stored for entityID.
func (s *MemoryStateStore) State(entityID string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[entityID]
	if !ok {
		return nil, false
	}

	return maps.Clone(entity), true
}
