// Package testutil provides PostgreSQL fixtures for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mbd888/smarterescrow/migrations"
)

// gooseMu serializes use of goose's package-level configuration.
var gooseMu sync.Mutex

// PGTest returns a database with every migration applied and a cleanup
// func that rolls the schema back to empty.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// The database comes from POSTGRES_URL. When that is unset and
// PGTEST_CONTAINERS=1, a throwaway postgres container is started instead.
// Otherwise the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	dbURL, stop := databaseURL(ctx, t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		stop()
		t.Fatalf("pgtest: open database: %v", err)
	}
	fail := func(format string, args ...any) {
		_ = db.Close()
		stop()
		t.Fatalf(format, args...)
	}
	if err := db.PingContext(ctx); err != nil {
		fail("pgtest: connect to database: %v", err)
	}
	if err := migrate(ctx, db, goose.UpContext); err != nil {
		fail("pgtest: apply migrations: %v", err)
	}

	return db, func() {
		if err := migrate(ctx, db, goose.ResetContext); err != nil {
			t.Logf("pgtest: reset migrations: %v", err)
		}
		_ = db.Close()
		stop()
	}
}

func databaseURL(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		return url, func() {}
	}
	if os.Getenv("PGTEST_CONTAINERS") != "1" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("smarterescrow_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("pgtest: postgres container unavailable: %v", err)
	}
	stop := func() { _ = testcontainers.TerminateContainer(ctr) }

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		stop()
		t.Fatalf("pgtest: container connection string: %v", err)
	}
	return url, stop
}

type migrateFunc func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func migrate(ctx context.Context, db *sql.DB, run migrateFunc) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return run(ctx, db, ".")
}
