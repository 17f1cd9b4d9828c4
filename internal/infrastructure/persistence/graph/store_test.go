package graph

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/storetest"
)

func TestStore_Contract(t *testing.T) {
	uri := os.Getenv("TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("set TEST_NEO4J_URI to run the neo4j store tests")
	}

	ctx := context.Background()
	client, err := Connect(ctx, Options{
		URI:      uri,
		Username: os.Getenv("TEST_NEO4J_USER"),
		Password: os.Getenv("TEST_NEO4J_PASSWORD"),
		Database: os.Getenv("TEST_NEO4J_DATABASE"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	require.NoError(t, client.EnsureSchema(ctx))

	store := NewStore(client)
	storetest.Run(t, func(*testing.T) mentorship.Store { return store })
}
