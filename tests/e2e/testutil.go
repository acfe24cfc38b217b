//go:build e2e

package e2e

import (
	"context"
	"fmt"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// startNeo4j starts a Neo4j testcontainer, returns bolt URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("hivemind_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return "redis://" + endpoint, cleanup, nil
}
