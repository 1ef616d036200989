// Package kvstoretest runs an in-process Redis for tests that need the shared store.
package kvstoretest

import (
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/kvstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// New starts a miniredis server and returns a Store bound to it.
// The server is torn down with the test. Use the returned server to
// FastForward expiries or to simulate an outage with Close.
func New(t *testing.T) (*kvstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	return kvstore.NewStore(client, "test", time.Second), mr
}
