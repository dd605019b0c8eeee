package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/bissquit/leadflow/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewMigratedPool starts a PostgreSQL container, applies the migrations in
// migrationsDir and returns a pool connected to it. Both are released when
// the test finishes.
func NewMigratedPool(t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	if err := postgres.MigrateUp(pg.ConnectionString, "file://"+migrationsDir); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.New(ctx, pg.ConnectionString)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// Truncate empties the given tables between subtests.
func Truncate(t *testing.T, pool *pgxpool.Pool, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
