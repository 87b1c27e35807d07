//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
)

// redisURL is the shared broker for the package, set once in TestMain.
var redisURL string

// TestMain uses NEUROSCRIBE_TEST_REDIS_URL when set and otherwise starts a
// throwaway container.
func TestMain(m *testing.M) {
	if url := os.Getenv("NEUROSCRIBE_TEST_REDIS_URL"); url != "" {
		redisURL = url
		os.Exit(m.Run())
	}

	url, cleanup, err := startRedisContainer(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}
	redisURL = url
	code := m.Run()
	cleanup()
	os.Exit(code)
}
