// Package coordinate decides, per task, whether a node computes the
// answer itself or reuses one from the shared solution store, based on
// the node's configured role.
package coordinate

import (
	"context"
	"log/slog"
	"time"

	"github.com/solverhub/solver-node/internal/config"
	"github.com/solverhub/solver-node/internal/logging"
	"github.com/solverhub/solver-node/internal/metrics"
	"github.com/solverhub/solver-node/internal/solutions"
)

// Store is the slice of the solution store the router needs.
type Store interface {
	Available() bool
	Put(ctx context.Context, fingerprint, reply, artifact string) bool
	WaitFor(ctx context.Context, fingerprint string, timeout, pollInterval time.Duration) (*solutions.Payload, bool)
}

// GenerateFunc computes an answer locally.
type GenerateFunc func(ctx context.Context) (reply, artifact string, err error)

// Outcome describes where an answer came from.
type Outcome struct {
	Reply     string
	Artifact  string
	FromStore bool
}

// Router applies the node's role to each task.
type Router struct {
	role         string
	store        Store
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRouter builds a Router. A nil store forces solo behavior for
// producers and waiters; the role itself is left as configured so the
// degradation is visible in logs.
func NewRouter(role string, store Store, waitTimeout, pollInterval time.Duration) *Router {
	return &Router{
		role:         role,
		store:        store,
		waitTimeout:  waitTimeout,
		pollInterval: pollInterval,
		logger:       logging.WithComponent("coordinate"),
	}
}

// Run resolves one task. Producers generate and then publish, waiters
// poll the store and fall back to local generation on a miss, solo
// nodes never touch the store. The generate callback runs at most
// once.
func (r *Router) Run(ctx context.Context, fp string, generate GenerateFunc) (Outcome, error) {
	switch r.role {
	case config.RoleProducer:
		return r.runProducer(ctx, fp, generate)
	case config.RoleWaiter:
		return r.runWaiter(ctx, fp, generate)
	default:
		return r.generate(ctx, generate)
	}
}

func (r *Router) runProducer(ctx context.Context, fp string, generate GenerateFunc) (Outcome, error) {
	outcome, err := r.generate(ctx, generate)
	if err != nil {
		return outcome, err
	}
	if r.store == nil {
		r.logger.Warn("producer has no solution store, skipping publish", "fingerprint", fp)
		return outcome, nil
	}
	// Publish failure is logged and counted inside the store. The
	// answer is already computed, so the request still succeeds.
	r.store.Put(ctx, fp, outcome.Reply, outcome.Artifact)
	return outcome, nil
}

func (r *Router) runWaiter(ctx context.Context, fp string, generate GenerateFunc) (Outcome, error) {
	if r.store == nil || !r.store.Available() {
		r.logger.Warn("solution store unavailable, waiter running solo", "fingerprint", fp)
		return r.generate(ctx, generate)
	}

	r.logger.Info("waiting for shared solution", "fingerprint", fp, "timeout", r.waitTimeout.String())
	if payload, ok := r.store.WaitFor(ctx, fp, r.waitTimeout, r.pollInterval); ok {
		metrics.SolutionCacheHits.Inc()
		r.logger.Info("reusing shared solution", "fingerprint", fp, "stored_at", payload.StoredAt)
		return Outcome{Reply: payload.Reply, Artifact: payload.Artifact, FromStore: true}, nil
	}

	metrics.SolutionCacheMisses.Inc()
	r.logger.Info("no shared solution arrived, falling back to local generation", "fingerprint", fp)
	return r.generate(ctx, generate)
}

func (r *Router) generate(ctx context.Context, generate GenerateFunc) (Outcome, error) {
	start := time.Now()
	reply, artifact, err := generate(ctx)
	if err != nil {
		return Outcome{}, err
	}
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())
	return Outcome{Reply: reply, Artifact: artifact}, nil
}
