package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testDatabaseEnv = "TERRAVEST_TEST_DATABASE_URL"

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

// Runs against a disposable database only; the public schema is dropped.
func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv(testDatabaseEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDatabaseEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	ups := migrationFiles(t, ".up.sql")
	applied, err := ApplyMigrations(ctx, db, testMigrationsDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if applied != len(ups) {
		t.Fatalf("applied %d migrations, want %d", applied, len(ups))
	}
	if again, err := ApplyMigrations(ctx, db, testMigrationsDir, zerolog.Nop()); err != nil || again != 0 {
		t.Fatalf("rerun applied %d (err %v), want 0", again, err)
	}

	downs := migrationFiles(t, ".down.sql")
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	for _, file := range downs {
		contents, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("down %s: %v", filepath.Base(file), err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, testMigrationsDir, zerolog.Nop()); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	pg := NewPostgresStore(db)
	if err := pg.InsertCompany(ctx, Company{ID: "solaris-grid", Name: "Solaris Grid", Sector: "Renewable Energy", Score: 92}); err != nil {
		t.Fatalf("insert company: %v", err)
	}
	if err := pg.InsertCommunity(ctx, Community{ID: "solar-circle", Name: "Solar Circle", CompanyID: "solaris-grid"}); err != nil {
		t.Fatalf("insert community: %v", err)
	}
	rows, err := pg.ListCommunitiesWithCompanies(ctx)
	if err != nil {
		t.Fatalf("list communities: %v", err)
	}
	if len(rows) != 1 || !rows[0].HasCompany || rows[0].Company.Name != "Solaris Grid" {
		t.Fatalf("unexpected communities: %+v", rows)
	}
}

func migrationFiles(t *testing.T, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(testMigrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, filepath.Join(testMigrationsDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files
}
