package component

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solverhub/solver-node/internal/extract"
)

// runHumanFeedback turns free-form user feedback into structured
// playbook operations. It never coordinates through the solution
// store: feedback is personal to the conversation, not a shared task.
func (r *Runner) runHumanFeedback(ctx context.Context, req *Request) (*Response, error) {
	var parts []string
	for _, item := range req.Input {
		if item.Query != "" {
			parts = append(parts, item.Query)
		}
	}
	feedbackText := strings.TrimSpace(strings.Join(parts, "\n"))

	if feedbackText == "" {
		return trivial(req, HumanFeedback, "No feedback text provided."), nil
	}
	if r.playbook == nil {
		return trivial(req, HumanFeedback, "Playbook storage is not configured; feedback was not saved."), nil
	}

	r.logger.Info("processing human feedback", "conversation_id", req.ConversationID, "length", len(feedbackText))

	conversationContext := r.recentDialogue(ctx, req.ConversationID)

	insights, err := r.playbook.ExtractInsights(ctx, feedbackText, conversationContext)
	if err != nil {
		r.logger.Error("insight extraction failed", "conversation_id", req.ConversationID, "error", err)
		message := fmt.Sprintf(
			"Thank you for your feedback. I've noted it for future reference:\n\n%s\n\n"+
				"(Note: Advanced insight extraction encountered an error, but your feedback is stored in conversation history)",
			feedbackText)
		r.remember(ctx, req.ConversationID, "User feedback: "+feedbackText, message)
		return trivial(req, HumanFeedback, message), nil
	}

	entries, err := r.playbook.ApplyOperations(ctx, req.ConversationID, feedbackText, insights)
	if err != nil {
		return nil, fmt.Errorf("%s: apply operations: %w", HumanFeedback, err)
	}

	var message string
	if len(insights) > 0 {
		var b strings.Builder
		b.WriteString("Thank you for your feedback! I've analyzed it and extracted the following insights:\n")
		for _, in := range insights {
			fmt.Fprintf(&b, "\n- %s (%s)\n  Key: %s\n  Value: %s\n  Confidence: %.0f%%",
				title(in.InsightType), in.Operation, in.Key, in.Value, in.Confidence*100)
			if len(in.Tags) > 0 {
				fmt.Fprintf(&b, "\n  Tags: %s", strings.Join(in.Tags, ", "))
			}
		}
		fmt.Fprintf(&b, "\n\nYour playbook now has %d active entries. I'll use this knowledge in our future conversations!", len(entries))
		message = b.String()
	} else {
		message = "Thank you for your feedback. However, I couldn't extract any actionable insights " +
			"to add to your playbook. Your feedback has been stored in the conversation history for context."
	}

	r.logger.Info("human feedback processed",
		"conversation_id", req.ConversationID, "insights", len(insights), "entries", len(entries))

	r.remember(ctx, req.ConversationID, "User feedback: "+feedbackText, message)

	artifact := extract.NoUpdate
	if len(insights) > 0 {
		summary := map[string]any{
			"feedback":           feedbackText,
			"insights_extracted": len(insights),
			"entries_modified":   len(entries),
			"insights":           insights,
		}
		if data, err := json.MarshalIndent(summary, "", "  "); err == nil {
			artifact = string(data)
		}
	}

	return &Response{
		ConversationID: req.ConversationID,
		Task:           req.Task,
		Input:          req.Input,
		Output:         OutputData{Reply: message, Artifact: artifact},
		Component:      HumanFeedback,
	}, nil
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// recentDialogue renders the last few messages for insight
// extraction, truncating long turns.
func (r *Runner) recentDialogue(ctx context.Context, conversationID string) string {
	if r.conversations == nil || conversationID == "" {
		return ""
	}
	messages, err := r.conversations.RecentMessages(ctx, conversationID, historyContextMessages)
	if err != nil || len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		content := m.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}
