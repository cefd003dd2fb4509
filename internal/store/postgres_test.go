package store

import (
	"context"
	"os"
	"testing"
)

func TestPostgres(t *testing.T) {
	databaseURL := os.Getenv("SHELFQL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("skipping postgres tests: SHELFQL_TEST_DATABASE_URL is not set")
	}

	testStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
		}
		t.Cleanup(s.Close)

		if err := s.Migrate(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := s.pool.Exec(ctx, "TRUNCATE books, authors, users"); err != nil {
			t.Fatal(err)
		}
		return s
	})
}
