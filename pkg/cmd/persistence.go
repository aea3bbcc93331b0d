// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/custodychain/custodyflow/pkg/persistence"
	"github.com/custodychain/custodyflow/pkg/persistence/file"
	"github.com/custodychain/custodyflow/pkg/persistence/memory"
	"github.com/custodychain/custodyflow/pkg/persistence/postgresql"
)

// ErrUnsupportedProvider is returned for an unknown persistence, event bus or lease provider.
var ErrUnsupportedProvider = errors.New("unsupported provider")

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql"}

// NewPersistence opens the store named by the scheme of databaseURL.
//
// nolint:ireturn
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		root := strings.TrimPrefix(databaseURL, "file://")
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create persistence root %s: %w", root, err)
		}

		return file.NewPersistence(root), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", fmt.Errorf("%w: database url %q has no scheme", ErrUnsupportedProvider, databaseURL)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
}
