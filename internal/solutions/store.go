// Package solutions is the shared solution store: a namespaced,
// TTL-bound key/value layer over Redis where producer nodes publish
// finished answers and waiter nodes look them up by task fingerprint.
//
// The store is advisory. Every operation degrades to "absent" or
// "not stored" on connectivity failure so that callers always keep
// the option of computing the answer themselves.
package solutions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solverhub/solver-node/internal/logging"
	"github.com/solverhub/solver-node/internal/metrics"
)

// Payload is the stored solution record.
type Payload struct {
	Reply       string `json:"reply"`
	Artifact    string `json:"artifact"`
	Fingerprint string `json:"fingerprint"`
	StoredAt    string `json:"stored_at"`
}

// Store wraps a Redis connection with the solution keyspace.
// available is atomic: operations update it from request goroutines
// while the health handlers read it.
type Store struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	available atomic.Bool
	logger    *slog.Logger
}

// Options configures a Store.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	TTL       time.Duration
}

// New builds a Store. Construction never fails; connectivity is
// checked by Connect and rechecked implicitly on every operation.
func New(opts Options) *Store {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "solver"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 120 * time.Second
	}

	s := &Store{
		namespace: namespace,
		ttl:       ttl,
		logger:    logging.WithComponent("solutions"),
	}
	if opts.Addr != "" {
		s.client = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	return s
}

// Connect pings Redis and records availability. A failed ping is
// logged, not returned: the node must come up even when the store is
// down.
func (s *Store) Connect(ctx context.Context) {
	if s.client == nil {
		s.logger.Warn("no redis address configured, solution sharing disabled")
		return
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis unreachable, solution sharing disabled", "error", err)
		s.available.Store(false)
		return
	}
	s.available.Store(true)
	s.logger.Info("connected to solution store", "namespace", s.namespace, "ttl", s.ttl.String())
}

// Available reports whether the last connectivity check succeeded.
func (s *Store) Available() bool {
	return s.client != nil && s.available.Load()
}

func (s *Store) key(fingerprint string) string {
	return s.namespace + ":solution:" + fingerprint
}

// Put publishes a solution under its fingerprint with the configured
// TTL. Publishing the same fingerprint twice overwrites: last write
// wins. Returns false when the solution could not be stored.
func (s *Store) Put(ctx context.Context, fingerprint, reply, artifact string) bool {
	if s.client == nil {
		return false
	}

	payload := Payload{
		Reply:       reply,
		Artifact:    artifact,
		Fingerprint: fingerprint,
		StoredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode solution", "fingerprint", fingerprint, "error", err)
		return false
	}

	if err := s.client.SetEx(ctx, s.key(fingerprint), data, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to publish solution", "fingerprint", fingerprint, "error", err)
		metrics.SolutionPublishFailures.Inc()
		return false
	}
	s.available.Store(true)
	s.logger.Info("published solution", "fingerprint", fingerprint, "ttl", s.ttl.String())
	return true
}

// Get fetches the solution for a fingerprint. Missing keys, expired
// keys, decode failures and connectivity errors all report absence.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Payload, bool) {
	if s.client == nil {
		return nil, false
	}

	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("solution lookup failed", "fingerprint", fingerprint, "error", err)
		return nil, false
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("discarding undecodable solution", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	return &payload, true
}

// WaitFor polls for a solution until one appears, the timeout lapses
// or the context is cancelled. Returns the solution and true on a hit.
func (s *Store) WaitFor(ctx context.Context, fingerprint string, timeout, pollInterval time.Duration) (*Payload, bool) {
	if s.client == nil {
		return nil, false
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if payload, ok := s.Get(ctx, fingerprint); ok {
			return payload, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

// Delete removes a solution. Like the other operations it is
// best-effort: failures are logged and reported as false.
func (s *Store) Delete(ctx context.Context, fingerprint string) bool {
	if s.client == nil {
		return false
	}
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		s.logger.Warn("failed to delete solution", "fingerprint", fingerprint, "error", err)
		return false
	}
	return true
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
