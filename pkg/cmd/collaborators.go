package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/adapters"
	"github.com/custodychain/custodyflow/pkg/eventbus"
	"github.com/custodychain/custodyflow/pkg/lease"
)

// NewLeaser returns the in-process leaser for "local" or a Redis leaser for a
// redis:// url. The returned close func releases the Redis connection.
//
// nolint:ireturn
func NewLeaser(ctx context.Context, spec string, logger *slog.Logger) (lease.Leaser, func() error, error) {
	switch {
	case spec == "" || spec == "local":
		return lease.NewLocalLeaser(), func() error { return nil }, nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		leaser, err := lease.NewRedisLeaserFromURL(ctx, spec, logger)
		if err != nil {
			return nil, nil, err
		}

		return leaser, leaser.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: lease %q", ErrUnsupportedProvider, spec)
	}
}

// NewStateStore picks the subject state collaborator: an HTTP service for
// http(s) urls, state.update.requested commands on the bus for "bus", and an
// in-process store when url is empty.
//
// nolint:ireturn
func NewStateStore(url string, publisher eventbus.EventPublisher, logger *slog.Logger) (actions.StateStore, error) {
	switch {
	case url == "" || url == "memory":
		return adapters.NewMemoryStateStore(), nil
	case url == "bus":
		return adapters.NewBusStateStore(publisher), nil
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return adapters.NewHTTPStateStore(url, logger), nil
	default:
		return nil, fmt.Errorf("%w: state store %q", ErrUnsupportedProvider, url)
	}
}
