package marketdb

import (
	"context"
	"os"
	"testing"
	"time"
)

// testDatabaseEnv names the environment variable that carries the test
// database URL. Tests needing a database skip when it is unset.
const testDatabaseEnv = "BTCEXD_TEST_DATABASE_URL"

// NewTestStore opens a store against the test database and resets the
// schema. The test is skipped when no test database is configured.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set, skipping database test", testDatabaseEnv)
	}

	cfg := NewConfig()
	cfg.URL = url
	cfg.MaxRetries = 5
	cfg.RetryDelay = 10 * time.Millisecond

	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to configure test store: %v", err)
	}

	ctx := context.Background()
	if err := store.Open(ctx); err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := store.ResetSchema(ctx); err != nil {
		store.Close()
		t.Fatalf("failed to reset schema: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})
	return store
}
