package component

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverhub/solver-node/internal/config"
	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/coordinate"
	"github.com/solverhub/solver-node/internal/extract"
	"github.com/solverhub/solver-node/internal/inference"
	"github.com/solverhub/solver-node/internal/playbook"
	"github.com/solverhub/solver-node/internal/search"
	"github.com/solverhub/solver-node/internal/solutions"
)

type fakeGenerator struct {
	content    string
	err        error
	calls      int
	lastEngine string
	lastReq    *inference.Request
}

func (f *fakeGenerator) Generate(_ context.Context, engine string, req *inference.Request) (*inference.Response, error) {
	f.calls++
	f.lastEngine = engine
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &inference.Response{Content: f.content, Engine: engine}, nil
}

type fakeSolutionStore struct {
	payload     *solutions.Payload
	putCalls    int
	putFP       string
	putReply    string
	putArtifact string
}

func (f *fakeSolutionStore) Available() bool { return true }

func (f *fakeSolutionStore) Put(_ context.Context, fp, reply, artifact string) bool {
	f.putCalls++
	f.putFP = fp
	f.putReply = reply
	f.putArtifact = artifact
	return true
}

func (f *fakeSolutionStore) WaitFor(_ context.Context, _ string, _, _ time.Duration) (*solutions.Payload, bool) {
	if f.payload == nil {
		return nil, false
	}
	return f.payload, true
}

type runnerFixture struct {
	runner        *Runner
	generator     *fakeGenerator
	conversations *conversation.Store
	playbook      *playbook.Service
	store         *fakeSolutionStore
}

func newFixture(t *testing.T, role string, store *fakeSolutionStore, gen *fakeGenerator) *runnerFixture {
	t.Helper()

	convs, err := conversation.Open(conversation.Options{Dir: t.TempDir(), MaxMessages: 10, MaxAgeDays: 7})
	require.NoError(t, err)
	t.Cleanup(func() { convs.Close() })

	pb, err := playbook.NewService(convs.DB(), func(ctx context.Context, system, prompt string) (string, error) {
		res, err := gen.Generate(ctx, "", &inference.Request{Prompt: prompt, System: system})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	})
	require.NoError(t, err)

	var coordStore coordinate.Store
	if store != nil {
		coordStore = store
	}
	coordinator := coordinate.NewRouter(role, coordStore, 50*time.Millisecond, 10*time.Millisecond)

	runner := NewRunner(RunnerOptions{
		Generator:     gen,
		Conversations: convs,
		Playbook:      pb,
		Coordinator:   coordinator,
	})
	return &runnerFixture{runner: runner, generator: gen, conversations: convs, playbook: pb, store: store}
}

func TestCompleteParsesStructuredOutput(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "done", "artifact": "draft v1"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Complete, &Request{
		ConversationID: "conv-1",
		Task:           "write a draft",
		Input:          []InputItem{{Query: "about Go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output.Reply)
	assert.Equal(t, "draft v1", res.Output.Artifact)
	assert.Equal(t, Complete, res.Component)
	assert.False(t, res.FromStore)

	msgs, err := f.conversations.RecentMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "done", msgs[1].Content)
}

func TestCompleteDegradesOnProseOutput(t *testing.T) {
	gen := &fakeGenerator{content: "I cannot answer in JSON, sorry."}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Complete, &Request{
		Task:  "task",
		Input: []InputItem{{Query: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "I cannot answer in JSON, sorry.", res.Output.Reply)
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)
}

func TestCompleteCarriesForwardPriorArtifact(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "nothing changed", "artifact": "no update"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Complete, &Request{
		Task:  "review",
		Input: []InputItem{{Query: "q"}},
		PreviousOutputs: []PreviousOutput{
			{Component: "refine", Task: "t", Output: OutputData{Reply: "r", Artifact: extract.NoUpdate}},
			{Component: "complete", Task: "t", Output: OutputData{Reply: "r", Artifact: "PREV"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "PREV", res.Output.Artifact)
}

func TestCompleteProducerPublishesResolvedSolution(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "answer", "artifact": "doc"}`}
	store := &fakeSolutionStore{}
	f := newFixture(t, config.RoleProducer, store, gen)

	req := &Request{Task: "shared task", Input: []InputItem{{Query: "q"}}}
	res, err := f.runner.Run(context.Background(), Complete, req)
	require.NoError(t, err)

	assert.Equal(t, 1, store.putCalls)
	assert.Equal(t, taskFingerprint(req), store.putFP)
	assert.Equal(t, "answer", store.putReply)
	assert.Equal(t, "doc", store.putArtifact)
	assert.False(t, res.FromStore)
}

func TestCompleteWaiterReusesSolution(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "local", "artifact": "local-doc"}`}
	store := &fakeSolutionStore{
		payload: &solutions.Payload{Reply: "shared answer", Artifact: "shared doc"},
	}
	f := newFixture(t, config.RoleWaiter, store, gen)

	res, err := f.runner.Run(context.Background(), Complete, &Request{
		ConversationID: "conv-w",
		Task:           "shared task",
		Input:          []InputItem{{Query: "q"}},
	})
	require.NoError(t, err)
	assert.True(t, res.FromStore)
	assert.Equal(t, "shared answer", res.Output.Reply)
	assert.Equal(t, "shared doc", res.Output.Artifact)
	assert.Zero(t, gen.calls, "waiter must not generate on a store hit")

	msgs, err := f.conversations.RecentMessages(context.Background(), "conv-w", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "reused solutions are not written to history")
}

func TestCompleteWaiterFallsBackOnMiss(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "local", "artifact": "local-doc"}`}
	store := &fakeSolutionStore{}
	f := newFixture(t, config.RoleWaiter, store, gen)

	res, err := f.runner.Run(context.Background(), Complete, &Request{
		Task:  "shared task",
		Input: []InputItem{{Query: "q"}},
	})
	require.NoError(t, err)
	assert.False(t, res.FromStore)
	assert.Equal(t, "local", res.Output.Reply)
	assert.Equal(t, 1, gen.calls)
	assert.Zero(t, store.putCalls, "waiters never publish")
}

func TestPlaybookContextInjectedIntoPrompt(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "ok", "artifact": "no update"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)
	ctx := context.Background()

	_, err := f.playbook.ApplyOperations(ctx, "conv-pb", "fb", []playbook.Insight{
		{Operation: "insert", InsightType: "preference", Key: "tone", Value: "formal", Confidence: 0.9},
	})
	require.NoError(t, err)

	_, err = f.runner.Run(ctx, Complete, &Request{
		ConversationID: "conv-pb",
		Task:           "task",
		Input:          []InputItem{{Query: "q"}},
		UsePlaybook:    true,
	})
	require.NoError(t, err)
	assert.Contains(t, gen.lastReq.System, "tone: formal")
}

func TestHistoryInjectedIntoPrompt(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "ok", "artifact": "no update"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)
	ctx := context.Background()

	require.NoError(t, f.conversations.AddMessage(ctx, "conv-h", "user", "earlier question"))

	_, err := f.runner.Run(ctx, Complete, &Request{
		ConversationID: "conv-h",
		Task:           "task",
		Input:          []InputItem{{Query: "q"}},
		UseHistory:     true,
	})
	require.NoError(t, err)
	assert.Contains(t, gen.lastReq.System, "earlier question")
}

func TestHistoryContextLimitedToRecentTurns(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "ok", "artifact": "no update"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		require.NoError(t, f.conversations.AddMessage(ctx, "conv-h2", "user", fmt.Sprintf("turn-%d", i)))
	}

	_, err := f.runner.Run(ctx, Complete, &Request{
		ConversationID: "conv-h2",
		Task:           "task",
		Input:          []InputItem{{Query: "q"}},
		UseHistory:     true,
	})
	require.NoError(t, err)

	// Only the 5 newest turns enter the prompt.
	assert.Contains(t, gen.lastReq.System, "turn-8")
	assert.Contains(t, gen.lastReq.System, "turn-4")
	assert.NotContains(t, gen.lastReq.System, "turn-3")
}

func TestSummaryWithoutPreviousOutputs(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Summary, &Request{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "No previous outputs to summarize.", res.Output.Reply)
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)
	assert.Zero(t, gen.calls)
}

func TestAggregateWithoutPreviousOutputs(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Aggregate, &Request{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "No previous outputs to aggregate.", res.Output.Reply)
	assert.Zero(t, gen.calls)
}

func TestAggregatePromptContainsAllOutputs(t *testing.T) {
	gen := &fakeGenerator{content: `{"reply": "consensus", "artifact": "merged"}`}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Aggregate, &Request{
		Task: "vote",
		PreviousOutputs: []PreviousOutput{
			{Component: "complete", Task: "t", Output: OutputData{Reply: "A", Artifact: "doc-a"}},
			{Component: "complete", Task: "t", Output: OutputData{Reply: "B", Artifact: extract.NoUpdate}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "merged", res.Output.Artifact)
	assert.Contains(t, gen.lastReq.Prompt, "Response: A")
	assert.Contains(t, gen.lastReq.Prompt, "Artifact: doc-a")
	assert.Contains(t, gen.lastReq.Prompt, "Response: B")
	assert.NotContains(t, gen.lastReq.Prompt, "Artifact: no update")
}

func TestFeedbackReturnsFreeText(t *testing.T) {
	gen := &fakeGenerator{content: "Strengths: clear. Weaknesses: none."}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), Feedback, &Request{
		Task: "review",
		PreviousOutputs: []PreviousOutput{
			{Component: "complete", Task: "t", Output: OutputData{Reply: "draft", Artifact: "doc"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Strengths: clear. Weaknesses: none.", res.Output.Reply)
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)
}

func TestHumanFeedbackExtractsInsights(t *testing.T) {
	gen := &fakeGenerator{content: `[{"operation": "insert", "insight_type": "preference", "key": "tone", "value": "prefers bullet points", "confidence_score": 0.9}]`}
	f := newFixture(t, config.RoleSolo, nil, gen)
	ctx := context.Background()

	res, err := f.runner.Run(ctx, HumanFeedback, &Request{
		ConversationID: "conv-hf",
		Task:           "process feedback",
		Input:          []InputItem{{Query: "please use bullet points"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Reply, "extracted the following insights")
	assert.Contains(t, res.Output.Reply, "1 active entries")

	var artifact map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Output.Artifact), &artifact))
	assert.EqualValues(t, 1, artifact["insights_extracted"])

	entries, err := f.playbook.Entries(ctx, "conv-hf")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tone", entries[0].Key)
}

func TestHumanFeedbackNoActionableInsights(t *testing.T) {
	gen := &fakeGenerator{content: "[]"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), HumanFeedback, &Request{
		ConversationID: "conv-hf2",
		Task:           "process feedback",
		Input:          []InputItem{{Query: "thanks!"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Reply, "couldn't extract any actionable insights")
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)
}

func TestHumanFeedbackEmptyInput(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), HumanFeedback, &Request{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "No feedback text provided.", res.Output.Reply)
	assert.Zero(t, gen.calls)
}

func TestHumanFeedbackExtractionErrorFallsBack(t *testing.T) {
	gen := &fakeGenerator{content: "not an array at all"}
	f := newFixture(t, config.RoleSolo, nil, gen)
	ctx := context.Background()

	res, err := f.runner.Run(ctx, HumanFeedback, &Request{
		ConversationID: "conv-hf3",
		Task:           "process feedback",
		Input:          []InputItem{{Query: "some feedback"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Reply, "noted it for future reference")
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)

	msgs, err := f.conversations.RecentMessages(ctx, "conv-hf3", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "feedback still lands in history")
}

func TestInternetSearchNotConfigured(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), InternetSearch, &Request{
		Task:  "find",
		Input: []InputItem{{Query: "golang"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Reply, "not configured")
}

func TestInternetSearchNoQueries(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	res, err := f.runner.Run(context.Background(), InternetSearch, &Request{Task: "find"})
	require.NoError(t, err)
	assert.Equal(t, "No search queries provided.", res.Output.Reply)
}

func TestInternetSearchSingleQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{
				{"title": "Go docs", "link": "https://go.dev/doc", "snippet": "official docs"},
			},
		})
	}))
	defer srv.Close()

	searcher, err := search.NewClient("k", "cx")
	require.NoError(t, err)
	searcher = searcher.WithBaseURL(srv.URL)

	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)
	f.runner.searcher = searcher

	res, err := f.runner.Run(context.Background(), InternetSearch, &Request{
		ConversationID: "conv-s",
		Task:           "find docs",
		Input:          []InputItem{{Query: "golang docs"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Output.Reply, "Go docs")
	assert.Contains(t, res.Output.Reply, "https://go.dev/doc")
	assert.Equal(t, extract.NoUpdate, res.Output.Artifact)
}

func TestUnknownComponent(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	_, err := f.runner.Run(context.Background(), "teleport", &Request{Task: "t"})
	assert.Error(t, err)
}

func TestMissingTask(t *testing.T) {
	gen := &fakeGenerator{content: "unused"}
	f := newFixture(t, config.RoleSolo, nil, gen)

	_, err := f.runner.Run(context.Background(), Complete, &Request{})
	assert.Error(t, err)
}
