package app

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/config"
	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/graph"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// wireStore opens the configured relationship store and registers its
// health check and closer.
func (a *App) wireStore(ctx context.Context) (mentorship.Store, error) {
	switch backend := a.Config.Store.Backend; backend {
	case config.StoreMemory:
		a.Logger.Warn("using the in-memory store, data is lost on restart")
		return memory.NewStore(), nil

	case config.StorePostgres:
		return a.wirePostgres(ctx)

	case config.StoreNeo4j:
		return a.wireNeo4j(ctx)

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func (a *App) wirePostgres(ctx context.Context) (mentorship.Store, error) {
	db := a.Config.Database
	cfg := postgres.DefaultConfig()
	cfg.URL = db.URL
	cfg.Host = db.Host
	cfg.Port = db.Port
	cfg.Database = db.Name
	cfg.User = db.User
	cfg.Password = db.Password
	cfg.SSLMode = db.SSLMode
	cfg.MaxConns = int32(db.MaxConns)
	cfg.MinConns = int32(db.MinConns)
	cfg.MaxConnLifetime = db.ConnMaxLifetime
	cfg.MaxConnIdleTime = db.ConnMaxIdleTime
	cfg.ConnectTimeout = db.ConnectTimeout

	a.Logger.Info("connecting to postgres...")
	conn, err := postgres.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		conn.Close()
		return nil
	})

	if a.Config.Store.MigrateOnStart {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.Logger.Info("database schema is up to date", logger.Int("applied", applied))
	}

	a.Health.AddCheck("postgres", conn.Check)
	return postgres.NewStore(conn), nil
}

func (a *App) wireNeo4j(ctx context.Context) (mentorship.Store, error) {
	n := a.Config.Neo4j

	a.Logger.Info("connecting to neo4j...")
	client, err := graph.Connect(ctx, graph.Options{
		URI:            n.URI,
		Username:       n.Username,
		Password:       n.Password,
		Database:       n.Database,
		MaxConnections: n.MaxConnections,
		ConnectTimeout: n.ConnectTimeout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	a.onClose("neo4j", client.Close)

	if a.Config.Store.MigrateOnStart {
		if err := client.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
	}

	a.Health.AddCheck("neo4j", client.VerifyConnectivity)
	return graph.NewStore(client), nil
}
