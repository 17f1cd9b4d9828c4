// Package graph implements the mentorship store on Neo4j.
//
// Profiles are (:User) nodes and every mentorship is a
// (student)-[:MENTORSHIP]->(mentor) relationship. Writes run in managed
// transactions that first bump m.lock_version on the mentor node, which
// makes Neo4j take the node write lock for the rest of the transaction.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ErrMissingURI is returned when no Bolt URI is configured.
var ErrMissingURI = errors.New("graph: neo4j uri is required")

// Options configures the driver.
type Options struct {
	URI            string
	Username       string
	Password       string
	Database       string
	MaxConnections int
	ConnectTimeout time.Duration
}

// Client owns the driver and the target database name.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logger.Logger
}

// Connect creates the driver and verifies connectivity.
func Connect(ctx context.Context, opts Options, log *logger.Logger) (*Client, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}
	if log == nil {
		log = logger.Nop()
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
		if opts.ConnectTimeout > 0 {
			c.SocketConnectTimeout = opts.ConnectTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	return &Client{
		driver:   driver,
		database: opts.Database,
		logger:   log.With(logger.Component("neo4j")),
	}, nil
}

// EnsureSchema creates the constraints and indexes the store relies on.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT user_uid_unique IF NOT EXISTS FOR (u:User) REQUIRE u.uid IS UNIQUE`,
		`CREATE INDEX user_type IF NOT EXISTS FOR (u:User) ON (u.type)`,
		`CREATE INDEX mentorship_id IF NOT EXISTS FOR ()-[r:MENTORSHIP]-() ON (r.id)`,
		`CREATE INDEX mentorship_status IF NOT EXISTS FOR ()-[r:MENTORSHIP]-() ON (r.status)`,
	}

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range statements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("graph schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("graph schema: %w", err)
		}
	}
	c.logger.Info("graph schema ensured", logger.Int("statements", len(statements)))
	return nil
}

// VerifyConnectivity checks the driver.
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Close closes the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   mode,
	})
}

// read runs a single read query and returns its records.
func (c *Client) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}
