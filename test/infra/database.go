package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Database is a migrated PostgreSQL instance for integration tests: either
// a throwaway container or a shared instance named by ESCROW_TEST_PG_DSN.
type Database struct {
	Pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// Provision resolves a DSN (env override first, fresh Postgres 16 container
// otherwise), resets the schema and applies the migrations.
func Provision(ctx context.Context) (*Database, error) {
	dsn := os.Getenv("ESCROW_TEST_PG_DSN")

	var pgC *postgres.PostgresContainer
	if dsn == "" {
		var err error
		pgC, err = postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("escrow_test"),
			postgres.WithUsername("escrow"),
			postgres.WithPassword("escrow"),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = pgC.Terminate(ctx)
			return nil, fmt.Errorf("container dsn: %w", err)
		}
	}

	pool, err := ApplyMigrations(ctx, dsn)
	if err != nil {
		if pgC != nil {
			_ = pgC.Terminate(ctx)
		}
		return nil, err
	}
	return &Database{Pool: pool, container: pgC}, nil
}

// Close releases the pool and tears down the container, if any.
func (d *Database) Close(ctx context.Context) {
	d.Pool.Close()
	if d.container != nil {
		_ = d.container.Terminate(ctx)
	}
}
