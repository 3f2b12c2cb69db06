package component

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/coordinate"
	"github.com/solverhub/solver-node/internal/extract"
	"github.com/solverhub/solver-node/internal/fingerprint"
	"github.com/solverhub/solver-node/internal/inference"
	"github.com/solverhub/solver-node/internal/logging"
	"github.com/solverhub/solver-node/internal/playbook"
	"github.com/solverhub/solver-node/internal/search"
)

// Generator produces text through a configured engine.
type Generator interface {
	Generate(ctx context.Context, engine string, req *inference.Request) (*inference.Response, error)
}

// Runner wires the components to their dependencies.
type Runner struct {
	generator     Generator
	conversations *conversation.Store
	playbook      *playbook.Service
	searcher      *search.Client
	coordinator   *coordinate.Router
	logger        *slog.Logger
}

// RunnerOptions configures a Runner. Searcher may be nil when search
// credentials are not configured.
type RunnerOptions struct {
	Generator     Generator
	Conversations *conversation.Store
	Playbook      *playbook.Service
	Searcher      *search.Client
	Coordinator   *coordinate.Router
}

// NewRunner builds a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		generator:     opts.Generator,
		conversations: opts.Conversations,
		playbook:      opts.Playbook,
		searcher:      opts.Searcher,
		coordinator:   opts.Coordinator,
		logger:        logging.WithComponent("component"),
	}
}

// Run dispatches a request to the named component.
func (r *Runner) Run(ctx context.Context, name string, req *Request) (*Response, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("task is required")
	}

	switch name {
	case Complete:
		return r.runCoordinated(ctx, completeSpec, req)
	case Refine:
		return r.runCoordinated(ctx, refineSpec, req)
	case Summary:
		if len(req.PreviousOutputs) == 0 {
			return trivial(req, Summary, "No previous outputs to summarize."), nil
		}
		return r.runCoordinated(ctx, summarySpec, req)
	case Aggregate:
		if len(req.PreviousOutputs) == 0 {
			return trivial(req, Aggregate, "No previous outputs to aggregate."), nil
		}
		return r.runCoordinated(ctx, aggregateSpec, req)
	case Feedback:
		return r.runFeedback(ctx, req)
	case HumanFeedback:
		return r.runHumanFeedback(ctx, req)
	case InternetSearch:
		return r.runInternetSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unknown component: %s", name)
	}
}

func trivial(req *Request, component, reply string) *Response {
	return &Response{
		ConversationID: req.ConversationID,
		Task:           req.Task,
		Input:          req.Input,
		Output:         OutputData{Reply: reply, Artifact: extract.NoUpdate},
		Component:      component,
	}
}

// taskFingerprint maps the request onto the canonical fingerprint
// input.
func taskFingerprint(req *Request) string {
	inputs := make([]fingerprint.Input, 0, len(req.Input))
	for _, item := range req.Input {
		inputs = append(inputs, fingerprint.Input{Query: item.Query, Artifact: item.Artifact})
	}
	return fingerprint.Task(req.Task, inputs)
}

// inputText renders the request's queries for a prompt.
func inputText(req *Request) string {
	parts := make([]string, 0, len(req.Input))
	for i, item := range req.Input {
		parts = append(parts, fmt.Sprintf("Query %d: %s", i+1, item.Query))
	}
	return strings.Join(parts, "\n\n")
}

// previousContext renders earlier outputs for a prompt, skipping
// sentinel artifacts.
func previousContext(header string, prevs []PreviousOutput) string {
	if len(prevs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(header)
	b.WriteString("\n")
	for _, prev := range prevs {
		fmt.Fprintf(&b, "\n[%s] %s:\n", prev.Component, prev.Task)
		fmt.Fprintf(&b, "  Response: %s\n", prev.Output.Reply)
		if prev.Output.Artifact != "" && prev.Output.Artifact != extract.NoUpdate {
			fmt.Fprintf(&b, "  Artifact: %s\n", prev.Output.Artifact)
		}
	}
	return b.String()
}

// priors converts previous outputs for sentinel resolution.
func priors(prevs []PreviousOutput) []extract.Prior {
	out := make([]extract.Prior, 0, len(prevs))
	for _, prev := range prevs {
		out = append(out, extract.Prior{
			Source:   prev.Component,
			Reply:    prev.Output.Reply,
			Artifact: prev.Output.Artifact,
		})
	}
	return out
}

// historyContextMessages caps how many recent turns enter the prompt.
const historyContextMessages = 5

// historyContext returns recent dialogue as prompt text when history
// is enabled for the request.
func (r *Runner) historyContext(ctx context.Context, req *Request) string {
	if !req.UseHistory || r.conversations == nil || req.ConversationID == "" {
		return ""
	}
	messages, err := r.conversations.RecentMessages(ctx, req.ConversationID, historyContextMessages)
	if err != nil {
		r.logger.Warn("failed to load conversation history", "conversation_id", req.ConversationID, "error", err)
		return ""
	}
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// playbookContext returns the conversation's playbook as prompt text
// when the playbook is enabled for the request. Failures degrade to
// no context.
func (r *Runner) playbookContext(ctx context.Context, req *Request) string {
	if !req.UsePlaybook || r.playbook == nil || req.ConversationID == "" {
		return ""
	}
	entries, err := r.playbook.Entries(ctx, req.ConversationID)
	if err != nil {
		r.logger.Warn("failed to load playbook", "conversation_id", req.ConversationID, "error", err)
		return ""
	}
	return playbook.FormatContext(entries)
}

// remember appends an exchange to the conversation history. Storage
// failures are logged, not surfaced.
func (r *Runner) remember(ctx context.Context, conversationID, userMsg, assistantMsg string) {
	if r.conversations == nil || conversationID == "" {
		return
	}
	if err := r.conversations.AddMessage(ctx, conversationID, "user", userMsg); err != nil {
		r.logger.Warn("failed to store user message", "conversation_id", conversationID, "error", err)
		return
	}
	if err := r.conversations.AddMessage(ctx, conversationID, "assistant", assistantMsg); err != nil {
		r.logger.Warn("failed to store assistant message", "conversation_id", conversationID, "error", err)
	}
}
