package adapters

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStateStore_ApplyUpdate(t *testing.T) {
	var (
		method string
		path   string
		body   map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewHTTPStateStore(server.URL+"/", slog.Default())

	err := store.ApplyUpdate(context.Background(), "item-1", map[string]any{"status": "QUARANTINED"})

	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/items/item-1", path)
	assert.Equal(t, map[string]any{"status": "QUARANTINED"}, body)
}

func TestHTTPStateStore_Failures(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		expectedErr   error
		expectedCalls int32
	}{
		{name: "client error is not retried", statuses: []int{http.StatusNotFound}, expectedErr: ErrStateRejected, expectedCalls: 1},
		{name: "server error recovers", statuses: []int{http.StatusBadGateway, http.StatusOK}, expectedCalls: 2},
		{name: "server error exhausts retries", statuses: []int{500, 500, 500}, expectedErr: ErrStateServer, expectedCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[min(int(n), len(tt.statuses))-1])
			}))
			defer server.Close()

			store := NewHTTPStateStore(server.URL, slog.Default(), WithMaxRetries(1))

			err := store.ApplyUpdate(context.Background(), "item-2", map[string]any{"flag": true})

			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expectedCalls, calls.Load())
		})
	}
}

func TestHTTPStateStore_RequiresEntityID(t *testing.T) {
	store := NewHTTPStateStore("http://127.0.0.1:1", slog.Default())

	require.ErrorIs(t, store.ApplyUpdate(context.Background(), "", nil), ErrMissingEntityID)
}

func TestMemoryStateStore(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, store.ApplyUpdate(ctx, "item-3", map[string]any{"status": "IN_TRANSIT"}))
	require.NoError(t, store.ApplyUpdate(ctx, "item-3", map[string]any{"status": "QUARANTINED", "flagged": true}))

	state, ok := store.State("item-3")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": "QUARANTINED", "flagged": true}, state)

	state["status"] = "mutated"
	again, _ := store.State("item-3")
	assert.Equal(t, "QUARANTINED", again["status"])

	_, ok = store.State("unknown")
	assert.False(t, ok)
	require.ErrorIs(t, store.ApplyUpdate(ctx, "", nil), ErrMissingEntityID)
}
