package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=mentorship")
	assert.Contains(t, dsn, "connect_timeout=5")

	cfg.URL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"closed pool", ErrConnectionClosed, true},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain", errors.New("syntax"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil))

	err := mapError("get user", &pgconn.PgError{Code: "08001"})
	assert.True(t, shared.IsRetryable(err))

	err = mapError("transition edge", fmt.Errorf("commit: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, shared.ErrOperationTimedOut)
	assert.False(t, shared.IsRetryable(err))

	domain := shared.ErrEdgeNotFound.With(errors.New("pair"))
	assert.Same(t, error(domain), mapError("get edge", domain))

	err = mapError("save user", &pgconn.PgError{Code: "42601"})
	assert.False(t, shared.IsRetryable(err))
	assert.Contains(t, err.Error(), "postgres save user")
}

func TestHealthStatus_Err(t *testing.T) {
	assert.NoError(t, (&HealthStatus{Healthy: true}).Err())

	err := (&HealthStatus{Error: "connection refused"}).Err()
	assert.ErrorContains(t, err, "connection refused")
}

func TestConstraintHelpers(t *testing.T) {
	wrapped := fmt.Errorf("tx: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(wrapped))
	assert.False(t, IsCheckViolation(wrapped))
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
}

func TestMigrations(t *testing.T) {
	migs := GetMigrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}

	edges := migs[1].UpSQL
	assert.Contains(t, edges, "WHERE status IN ('pending', 'active')")
	assert.True(t, strings.Contains(migs[0].UpSQL, "current_mentees <= max_mentees"))

	m := NewMigratorWithMigrations(nil, []Migration{{Version: 3}, {Version: 1}, {Version: 2}})
	assert.Equal(t, 1, m.migrations[0].Version)
	assert.Equal(t, 3, m.migrations[2].Version)
}
