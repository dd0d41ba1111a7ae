package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/persistence/file"
	"github.com/jurisdesk/lexflow/pkg/persistence/postgresql"
	"github.com/jurisdesk/lexflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "redis", "postgres", "postgresql"}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "redis":
		store, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis persistence: %w", err))
		}

		return store
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return store
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, _ := strings.Cut(databaseURL, "://")

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
