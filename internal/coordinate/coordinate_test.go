package coordinate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverhub/solver-node/internal/config"
	"github.com/solverhub/solver-node/internal/solutions"
)

// fakeStore records calls and serves a canned payload.
type fakeStore struct {
	available   bool
	payload     *solutions.Payload
	putFails    bool
	putCalls    int
	waitCalls   int
	lastPutFP   string
	lastPutBody [2]string
}

func (f *fakeStore) Available() bool { return f.available }

func (f *fakeStore) Put(_ context.Context, fp, reply, artifact string) bool {
	f.putCalls++
	f.lastPutFP = fp
	f.lastPutBody = [2]string{reply, artifact}
	return !f.putFails
}

func (f *fakeStore) WaitFor(_ context.Context, _ string, _, _ time.Duration) (*solutions.Payload, bool) {
	f.waitCalls++
	if f.payload == nil {
		return nil, false
	}
	return f.payload, true
}

func countingGenerate(calls *int, reply, artifact string) GenerateFunc {
	return func(context.Context) (string, string, error) {
		*calls++
		return reply, artifact, nil
	}
}

func TestSoloNeverTouchesStore(t *testing.T) {
	store := &fakeStore{available: true, payload: &solutions.Payload{Reply: "cached"}}
	r := NewRouter(config.RoleSolo, store, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp1", countingGenerate(&calls, "local", "art"))
	require.NoError(t, err)
	assert.Equal(t, "local", out.Reply)
	assert.False(t, out.FromStore)
	assert.Equal(t, 1, calls)
	assert.Zero(t, store.putCalls)
	assert.Zero(t, store.waitCalls)
}

func TestProducerPublishesAfterGenerating(t *testing.T) {
	store := &fakeStore{available: true}
	r := NewRouter(config.RoleProducer, store, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp2", countingGenerate(&calls, "answer", "doc"))
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Reply)
	assert.False(t, out.FromStore)
	assert.Equal(t, 1, store.putCalls)
	assert.Equal(t, "fp2", store.lastPutFP)
	assert.Equal(t, [2]string{"answer", "doc"}, store.lastPutBody)
}

func TestProducerPublishFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{available: true, putFails: true}
	r := NewRouter(config.RoleProducer, store, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp3", countingGenerate(&calls, "answer", "doc"))
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Reply)
	assert.Equal(t, 1, calls)
}

func TestProducerGenerationErrorSkipsPublish(t *testing.T) {
	store := &fakeStore{available: true}
	r := NewRouter(config.RoleProducer, store, time.Second, 10*time.Millisecond)

	_, err := r.Run(context.Background(), "fp4", func(context.Context) (string, string, error) {
		return "", "", errors.New("engine down")
	})
	require.Error(t, err)
	assert.Zero(t, store.putCalls)
}

func TestWaiterReusesSharedSolution(t *testing.T) {
	store := &fakeStore{
		available: true,
		payload:   &solutions.Payload{Reply: "shared", Artifact: "shared-doc", Fingerprint: "fp5"},
	}
	r := NewRouter(config.RoleWaiter, store, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp5", countingGenerate(&calls, "local", "art"))
	require.NoError(t, err)
	assert.True(t, out.FromStore)
	assert.Equal(t, "shared", out.Reply)
	assert.Equal(t, "shared-doc", out.Artifact)
	assert.Zero(t, calls, "generator must not run on a store hit")
	assert.Zero(t, store.putCalls, "waiters never publish")
}

func TestWaiterTimeoutFallsBackToLocal(t *testing.T) {
	store := &fakeStore{available: true}
	r := NewRouter(config.RoleWaiter, store, 50*time.Millisecond, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp6", countingGenerate(&calls, "local", "art"))
	require.NoError(t, err)
	assert.False(t, out.FromStore)
	assert.Equal(t, "local", out.Reply)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, store.waitCalls)
	assert.Zero(t, store.putCalls, "fallback generation is not published")
}

func TestWaiterWithUnavailableStoreSkipsWaiting(t *testing.T) {
	store := &fakeStore{available: false, payload: &solutions.Payload{Reply: "stale"}}
	r := NewRouter(config.RoleWaiter, store, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp7", countingGenerate(&calls, "local", "art"))
	require.NoError(t, err)
	assert.Equal(t, "local", out.Reply)
	assert.Zero(t, store.waitCalls)
}

func TestNilStoreRunsSolo(t *testing.T) {
	r := NewRouter(config.RoleWaiter, nil, time.Second, 10*time.Millisecond)

	calls := 0
	out, err := r.Run(context.Background(), "fp8", countingGenerate(&calls, "local", "art"))
	require.NoError(t, err)
	assert.Equal(t, "local", out.Reply)
	assert.Equal(t, 1, calls)
}
