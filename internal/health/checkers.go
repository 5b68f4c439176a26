package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Database returns a [Checker] that pings the PostgreSQL pool. A nil pool
// reports failure; readiness should not claim a database that was never
// connected.
func Database(pool *pgxpool.Pool) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("health: no database pool configured")
			}
			return pool.Ping(ctx)
		},
	}
}

// Redis returns a [Checker] that pings the Redis client.
func Redis(client *redis.Client) Checker {
	return Checker{
		Name: "redis",
		Check: func(ctx context.Context) error {
			if client == nil {
				return fmt.Errorf("health: no redis client configured")
			}
			return client.Ping(ctx).Err()
		},
	}
}

// Provider returns a [Checker] named after a provider backend. probe is
// typically a cheap authenticated call or a config sanity check.
func Provider(name string, probe func(ctx context.Context) error) Checker {
	return Checker{
		Name: "provider:" + name,
		Check: func(ctx context.Context) error {
			if probe == nil {
				return nil
			}
			return probe(ctx)
		},
	}
}
