package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/tjfontaine/agent-relay-gateway/internal/config"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage/dynamo"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage/memory"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage/sqlite"
)

// sweepInterval is how often the sqlite backend purges expired sessions.
const sweepInterval = 15 * time.Minute

func openSessions(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (storage.SessionStore, error) {
	switch cfg.Sessions.Backend {
	case "dynamodb":
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Sessions.Table, cfg.Sessions.TTL), nil
	case "sqlite":
		store, err := sqlite.New(cfg.Sessions.SQLitePath, cfg.Sessions.TTL)
		if err != nil {
			return nil, err
		}
		if cfg.Sessions.TTL > 0 {
			go sweepExpired(ctx, store, logger)
		}
		return store, nil
	case "memory":
		return memory.New(cfg.Sessions.TTL), nil
	default:
		return nil, fmt.Errorf("unknown sessions backend %q", cfg.Sessions.Backend)
	}
}

// sweepExpired deletes expired sqlite sessions until ctx is cancelled.
// DynamoDB expires items on its own through the table's TTL attribute.
func sweepExpired(ctx context.Context, store *sqlite.Store, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", slog.Int64("count", n))
			}
		}
	}
}
