package playbook

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T, generate GenerateFunc) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "playbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewService(db, generate)
	require.NoError(t, err)
	return s
}

func staticGenerator(output string) GenerateFunc {
	return func(context.Context, string, string) (string, error) {
		return output, nil
	}
}

func TestExtractInsights(t *testing.T) {
	s := newTestService(t, staticGenerator(`[
		{"operation": "insert", "insight_type": "preference", "key": "tone", "value": "prefers formal tone", "confidence_score": 0.9, "tags": ["style"]}
	]`))

	insights, err := s.ExtractInsights(context.Background(), "please keep it formal", "")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "insert", insights[0].Operation)
	assert.Equal(t, "tone", insights[0].Key)
	assert.InDelta(t, 0.9, insights[0].Confidence, 1e-9)
}

func TestExtractInsightsToleratesFencedOutput(t *testing.T) {
	s := newTestService(t, staticGenerator("Here you go:\n```json\n[{\"operation\": \"insert\", \"insight_type\": \"fact\", \"key\": \"team\", \"value\": \"works on infra team\"}]\n```"))

	insights, err := s.ExtractInsights(context.Background(), "fyi I work on the infra team", "")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "team", insights[0].Key)
	assert.InDelta(t, 0.8, insights[0].Confidence, 1e-9, "missing confidence defaults")
}

func TestExtractInsightsEmptyArray(t *testing.T) {
	s := newTestService(t, staticGenerator("[]"))

	insights, err := s.ExtractInsights(context.Background(), "thanks!", "")
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestExtractInsightsSkipsMalformedEntries(t *testing.T) {
	s := newTestService(t, staticGenerator(`[
		{"operation": "insert", "insight_type": "preference", "key": "valid", "value": "v"},
		{"operation": "explode", "insight_type": "preference", "key": "bad-op", "value": "v"},
		{"operation": "insert", "insight_type": "preference", "key": "", "value": "no key"}
	]`))

	insights, err := s.ExtractInsights(context.Background(), "feedback", "")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "valid", insights[0].Key)
}

func TestExtractInsightsNoArray(t *testing.T) {
	s := newTestService(t, staticGenerator("I could not find anything actionable."))

	_, err := s.ExtractInsights(context.Background(), "feedback", "")
	assert.Error(t, err)
}

func TestApplyOperationsInsertUpdateDelete(t *testing.T) {
	s := newTestService(t, staticGenerator("[]"))
	ctx := context.Background()

	entries, err := s.ApplyOperations(ctx, "conv-1", "fb1", []Insight{
		{Operation: "insert", InsightType: "preference", Key: "tone", Value: "formal", Confidence: 0.9},
		{Operation: "insert", InsightType: "fact", Key: "team", Value: "infra", Confidence: 0.8},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ID)

	entries, err = s.ApplyOperations(ctx, "conv-1", "fb2", []Insight{
		{Operation: "update", InsightType: "preference", Key: "tone", Value: "casual", Confidence: 0.95},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2, "update must not create a duplicate")

	byKey := map[string]Entry{}
	for _, e := range entries {
		byKey[e.Key] = e
	}
	assert.Equal(t, "casual", byKey["tone"].Value)
	assert.Equal(t, "fb2", byKey["tone"].SourceFeedback)

	entries, err = s.ApplyOperations(ctx, "conv-1", "fb3", []Insight{
		{Operation: "delete", Key: "team"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tone", entries[0].Key)
}

func TestApplyOperationsUpdateMissingKeyInserts(t *testing.T) {
	s := newTestService(t, staticGenerator("[]"))

	entries, err := s.ApplyOperations(context.Background(), "conv-2", "fb", []Insight{
		{Operation: "update", InsightType: "fact", Key: "new-key", Value: "v", Confidence: 0.7},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new-key", entries[0].Key)
}

func TestEntriesAreScopedToConversation(t *testing.T) {
	s := newTestService(t, staticGenerator("[]"))
	ctx := context.Background()

	_, err := s.ApplyOperations(ctx, "conv-a", "fb", []Insight{
		{Operation: "insert", InsightType: "fact", Key: "k", Value: "a"},
	})
	require.NoError(t, err)
	_, err = s.ApplyOperations(ctx, "conv-b", "fb", []Insight{
		{Operation: "insert", InsightType: "fact", Key: "k", Value: "b"},
	})
	require.NoError(t, err)

	entries, err := s.Entries(ctx, "conv-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Value)
}

func TestFormatContext(t *testing.T) {
	out := FormatContext([]Entry{
		{InsightType: "preference", Key: "tone", Value: "formal", Tags: []string{"style"}},
		{InsightType: "fact", Key: "team", Value: "infra"},
	})
	assert.Contains(t, out, "- [preference] tone: formal (tags: style)")
	assert.Contains(t, out, "- [fact] team: infra")

	assert.Empty(t, FormatContext(nil))
}
