package component

import (
	"context"
	"fmt"

	"github.com/solverhub/solver-node/internal/extract"
	"github.com/solverhub/solver-node/internal/inference"
)

// componentSpec describes one coordinated JSON component: its prompts,
// sampling temperature, and how the exchange is written to history.
type componentSpec struct {
	name           string
	temperature    float64
	systemPrompt   string
	userPrompt     func(req *Request) string
	historyUserMsg func(req *Request) string
}

var completeSpec = componentSpec{
	name:        Complete,
	temperature: 0.7,
	systemPrompt: `You are an intelligent AI assistant that helps users complete tasks.

CRITICAL: You MUST respond with ONLY valid JSON. No markdown code blocks, no explanations outside JSON, no extra text.

Required JSON format:
{
  "reply": "Your natural language explanation of what you did or your answer",
  "artifact": "Updated artifact content OR 'no update'"
}

Guidelines for the artifact field:
- If the task is conversational only: Return "no update"
- If there's ONE artifact and no changes needed: Return "no update"
- If there's ONE artifact and changes needed: Return the updated version
- If there are MULTIPLE artifacts: You MUST create new content (combine/choose/merge) - NEVER "no update"
- If creating a new artifact: Return the full content

Your response must be ONLY the JSON object, nothing else.`,
	userPrompt: func(req *Request) string {
		return fmt.Sprintf("Task: %s\n\nInput:\n%s%s\n\nComplete this task and respond in JSON format.",
			req.Task, inputText(req), previousContext("Previous component outputs:", req.PreviousOutputs))
	},
	historyUserMsg: func(req *Request) string {
		return fmt.Sprintf("Task: %s\n%s", req.Task, inputText(req))
	},
}

var refineSpec = componentSpec{
	name:        Refine,
	temperature: 0.7,
	systemPrompt: `You are an AI assistant that refines and improves outputs.

CRITICAL: You MUST respond with ONLY valid JSON. No markdown code blocks, no explanations outside JSON, no extra text.

Required JSON format:
{
  "reply": "Explanation of what you refined and why",
  "artifact": "The refined/improved content OR 'no update'"
}

Guidelines for the artifact field:
- If providing feedback only: Set artifact to "no update"
- If there's ONE artifact and no improvements needed: Set to "no update"
- If there's ONE artifact and improvements needed: Write the improved version
- If there are MULTIPLE artifacts: You MUST create new content (refine one, combine, or merge) - NEVER "no update"

Your response must be ONLY the JSON object, nothing else.`,
	userPrompt: func(req *Request) string {
		return fmt.Sprintf("Task: %s\n\nOriginal Input:\n%s%s\n\nRefine and improve the outputs. Respond in JSON format.",
			req.Task, inputText(req), previousContext("Previous outputs to refine:", req.PreviousOutputs))
	},
	historyUserMsg: func(req *Request) string {
		return fmt.Sprintf("Refine task: %s", req.Task)
	},
}

var summarySpec = componentSpec{
	name:        Summary,
	temperature: 0.5,
	systemPrompt: `You are an AI assistant that creates concise, comprehensive summaries.

CRITICAL: You MUST respond with ONLY valid JSON. No markdown code blocks, no explanations outside JSON, no extra text.

Required JSON format:
{
  "reply": "Your summary explanation",
  "artifact": "Summarized artifact content OR 'no update'"
}

Guidelines for the artifact field:
- If there's NO artifact content in the inputs: Return "no update"
- If there's ONE artifact to summarize: Return the summarized version
- If there are MULTIPLE artifacts: Create a combined summary

Your response must be ONLY the JSON object, nothing else.`,
	userPrompt: func(req *Request) string {
		return fmt.Sprintf(`Task: %s

Content to summarize:%s

Create a comprehensive summary that:
1. Captures the main points and key insights
2. Maintains important details
3. Removes redundancy
4. Organizes information logically

Respond in JSON format.`, req.Task, previousContext("", req.PreviousOutputs))
	},
	historyUserMsg: func(req *Request) string {
		return fmt.Sprintf("Summarize: %s", req.Task)
	},
}

var aggregateSpec = componentSpec{
	name:        Aggregate,
	temperature: 0.3,
	systemPrompt: `You are an AI assistant that aggregates multiple outputs using majority voting.

CRITICAL: You MUST respond with ONLY valid JSON. No markdown code blocks, no explanations outside JSON, no extra text.

Required JSON format:
{
  "reply": "Your explanation of the consensus and voting results",
  "artifact": "The aggregated/consensus artifact content OR 'no update'"
}

Guidelines for the artifact field:
- If there's NO artifact content in the inputs: Return "no update"
- If there's ONE artifact: Return it as-is (or "no update" if no changes)
- If there are MULTIPLE artifacts: Create an aggregated version using majority voting
- Use majority voting: Choose the most common content or merge agreements

Your response must be ONLY the JSON object, nothing else.`,
	userPrompt: func(req *Request) string {
		return fmt.Sprintf(`Task: %s

Multiple outputs to aggregate:%s

Analyze these outputs and determine the consensus answer by:
1. Identifying common themes and agreements
2. Noting where outputs differ
3. Using majority voting logic to determine the most supported answer
4. Highlighting any important minority opinions

Respond in JSON format.`, req.Task, previousContext("", req.PreviousOutputs))
	},
	historyUserMsg: func(req *Request) string {
		return fmt.Sprintf("Aggregate: %s", req.Task)
	},
}

// runCoordinated executes a JSON component under the node's
// coordination role: the answer either comes from the shared solution
// store or from local generation followed by extraction and sentinel
// resolution.
func (r *Runner) runCoordinated(ctx context.Context, spec componentSpec, req *Request) (*Response, error) {
	fp := taskFingerprint(req)
	r.logger.Info("running component", "component", spec.name, "fingerprint", fp)

	system := spec.systemPrompt
	if pb := r.playbookContext(ctx, req); pb != "" {
		system += "\n\nUser preferences and context:\n" + pb
	}
	if hist := r.historyContext(ctx, req); hist != "" {
		system += "\n\n" + hist
	}
	prompt := spec.userPrompt(req)

	outcome, err := r.coordinator.Run(ctx, fp, func(ctx context.Context) (string, string, error) {
		res, err := r.generator.Generate(ctx, req.Engine, &inference.Request{
			Prompt:      prompt,
			System:      system,
			Model:       req.Model,
			Temperature: spec.temperature,
		})
		if err != nil {
			return "", "", err
		}
		parsed := extract.Parse(res.Content)
		parsed = extract.Resolve(parsed, priors(req.PreviousOutputs))
		return parsed.Reply, parsed.Artifact, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.name, err)
	}

	// A reused solution was already remembered by the node that
	// produced it; only locally generated answers enter history here.
	if !outcome.FromStore {
		r.remember(ctx, req.ConversationID, spec.historyUserMsg(req), outcome.Reply)
	}

	return &Response{
		ConversationID: req.ConversationID,
		Task:           req.Task,
		Input:          req.Input,
		Output:         OutputData{Reply: outcome.Reply, Artifact: outcome.Artifact},
		Component:      spec.name,
		FromStore:      outcome.FromStore,
	}, nil
}

// runFeedback analyzes previous outputs and returns free-text
// critique. It coordinates like the JSON components but never edits
// the artifact.
func (r *Runner) runFeedback(ctx context.Context, req *Request) (*Response, error) {
	fp := taskFingerprint(req)
	r.logger.Info("running component", "component", Feedback, "fingerprint", fp)

	system := "You are an AI assistant that provides constructive feedback."
	if pb := r.playbookContext(ctx, req); pb != "" {
		system += "\n" + pb
	}
	if hist := r.historyContext(ctx, req); hist != "" {
		system += "\n\n" + hist
	}

	prompt := fmt.Sprintf(`Task: %s%s

Analyze the outputs and provide structured feedback:

For each output, identify:
1. Strengths (what works well)
2. Weaknesses (what could be improved)
3. Specific suggestions for improvement

Format your feedback clearly with sections.`,
		req.Task, previousContext("Outputs to analyze:", req.PreviousOutputs))

	outcome, err := r.coordinator.Run(ctx, fp, func(ctx context.Context) (string, string, error) {
		res, err := r.generator.Generate(ctx, req.Engine, &inference.Request{
			Prompt:      prompt,
			System:      system,
			Model:       req.Model,
			Temperature: 0.7,
		})
		if err != nil {
			return "", "", err
		}
		return res.Content, extract.NoUpdate, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Feedback, err)
	}

	if !outcome.FromStore {
		r.remember(ctx, req.ConversationID, fmt.Sprintf("Feedback request: %s", req.Task), outcome.Reply)
	}

	return &Response{
		ConversationID: req.ConversationID,
		Task:           req.Task,
		Input:          req.Input,
		Output:         OutputData{Reply: outcome.Reply, Artifact: extract.NoUpdate},
		Component:      Feedback,
		FromStore:      outcome.FromStore,
	}, nil
}
