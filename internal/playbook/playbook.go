// Package playbook maintains a per-conversation knowledge base of
// insights distilled from human feedback. A generator turns free-form
// feedback into structured insert/update/delete operations; the
// surviving entries are injected into later prompts as user context.
package playbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solverhub/solver-node/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS playbook_entries (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    insight_type    TEXT NOT NULL,
    key             TEXT NOT NULL,
    value           TEXT NOT NULL,
    confidence      REAL NOT NULL DEFAULT 0.8,
    tags            TEXT NOT NULL DEFAULT '[]',
    source_feedback TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_playbook_conversation
    ON playbook_entries (conversation_id, key);
`

// timeLayout is fixed-width RFC 3339; the TEXT timestamps must stay
// lexicographically monotonic for the created_at ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const extractSystemPrompt = `You analyze user feedback and extract actionable insights for a personal playbook.

CRITICAL: You MUST respond with ONLY a valid JSON array. No markdown code blocks, no extra text.

Each element must have this shape:
{
  "operation": "insert" | "update" | "delete",
  "insight_type": "preference" | "fact" | "instruction" | "correction",
  "key": "short-stable-identifier",
  "value": "the insight itself",
  "confidence_score": 0.0-1.0,
  "tags": ["optional", "tags"]
}

Return [] when the feedback contains nothing actionable.`

// Insight is one operation the generator extracted from feedback.
type Insight struct {
	Operation   string   `json:"operation"`
	InsightType string   `json:"insight_type"`
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	Confidence  float64  `json:"confidence_score"`
	Tags        []string `json:"tags"`
}

// Entry is a stored playbook record.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	InsightType    string    `json:"insight_type"`
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	Confidence     float64   `json:"confidence"`
	Tags           []string  `json:"tags"`
	SourceFeedback string    `json:"source_feedback,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GenerateFunc produces text from a system prompt and a user prompt.
type GenerateFunc func(ctx context.Context, system, prompt string) (string, error)

// Service manages playbook entries.
type Service struct {
	db       *sql.DB
	generate GenerateFunc
	logger   *slog.Logger
}

// NewService initializes the playbook tables on an existing database.
func NewService(db *sql.DB, generate GenerateFunc) (*Service, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize playbook schema: %w", err)
	}
	return &Service{
		db:       db,
		generate: generate,
		logger:   logging.WithComponent("playbook"),
	}, nil
}

// ExtractInsights asks the generator to turn feedback into structured
// operations. conversationContext carries recent dialogue to sharpen
// the extraction.
func (s *Service) ExtractInsights(ctx context.Context, feedback, conversationContext string) ([]Insight, error) {
	var prompt strings.Builder
	if conversationContext != "" {
		prompt.WriteString("Recent conversation:\n")
		prompt.WriteString(conversationContext)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("User feedback:\n")
	prompt.WriteString(feedback)

	raw, err := s.generate(ctx, extractSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("extract insights: %w", err)
	}

	insights, err := parseInsights(raw)
	if err != nil {
		return nil, fmt.Errorf("parse insights: %w", err)
	}
	return insights, nil
}

// parseInsights tolerates prose and code fences around the JSON array.
func parseInsights(raw string) ([]Insight, error) {
	text := strings.TrimSpace(raw)
	first := strings.Index(text, "[")
	last := strings.LastIndex(text, "]")
	if first < 0 || last <= first {
		return nil, fmt.Errorf("no JSON array in generator output")
	}

	var insights []Insight
	if err := json.Unmarshal([]byte(text[first:last+1]), &insights); err != nil {
		return nil, err
	}

	valid := insights[:0]
	for _, in := range insights {
		if in.Key == "" {
			continue
		}
		switch in.Operation {
		case "insert", "update", "delete":
		default:
			continue
		}
		if in.Confidence <= 0 {
			in.Confidence = 0.8
		}
		valid = append(valid, in)
	}
	return valid, nil
}

// ApplyOperations writes the extracted insights to storage and
// returns the conversation's active entries afterwards. Updates to a
// missing key behave as inserts; deletes of a missing key are no-ops.
func (s *Service) ApplyOperations(ctx context.Context, conversationID, sourceFeedback string, insights []Insight) ([]Entry, error) {
	now := time.Now().UTC().Format(timeLayout)

	for _, in := range insights {
		switch in.Operation {
		case "delete":
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM playbook_entries WHERE conversation_id = ? AND key = ?`,
				conversationID, in.Key,
			); err != nil {
				return nil, fmt.Errorf("delete entry %s: %w", in.Key, err)
			}

		case "insert", "update":
			tags, err := json.Marshal(in.Tags)
			if err != nil {
				tags = []byte("[]")
			}

			var existingID string
			err = s.db.QueryRowContext(ctx,
				`SELECT id FROM playbook_entries WHERE conversation_id = ? AND key = ?`,
				conversationID, in.Key,
			).Scan(&existingID)

			switch {
			case err == sql.ErrNoRows:
				if _, err := s.db.ExecContext(ctx,
					`INSERT INTO playbook_entries
					 (id, conversation_id, insight_type, key, value, confidence, tags, source_feedback, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					uuid.NewString(), conversationID, in.InsightType, in.Key, in.Value,
					in.Confidence, string(tags), sourceFeedback, now, now,
				); err != nil {
					return nil, fmt.Errorf("insert entry %s: %w", in.Key, err)
				}
			case err != nil:
				return nil, fmt.Errorf("lookup entry %s: %w", in.Key, err)
			default:
				if _, err := s.db.ExecContext(ctx,
					`UPDATE playbook_entries
					 SET insight_type = ?, value = ?, confidence = ?, tags = ?, source_feedback = ?, updated_at = ?
					 WHERE id = ?`,
					in.InsightType, in.Value, in.Confidence, string(tags), sourceFeedback, now, existingID,
				); err != nil {
					return nil, fmt.Errorf("update entry %s: %w", in.Key, err)
				}
			}
		}
	}

	return s.Entries(ctx, conversationID)
}

// Entries returns the conversation's playbook, oldest first.
func (s *Service) Entries(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, insight_type, key, value, confidence, tags, source_feedback, created_at, updated_at
		 FROM playbook_entries
		 WHERE conversation_id = ?
		 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query playbook: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tags, createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.InsightType, &e.Key, &e.Value,
			&e.Confidence, &tags, &e.SourceFeedback, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			e.Tags = nil
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FormatContext renders entries as a prompt fragment.
func FormatContext(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known user preferences and context:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s: %s", e.InsightType, e.Key, e.Value)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(e.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
