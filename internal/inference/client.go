// Package inference provides text-generation clients for the engines
// a solver node can run against, behind a single Client interface.
package inference

import (
	"context"
	"regexp"
	"strings"
)

// Client is the interface for text-generation providers
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Health(ctx context.Context) error
}

// Request represents a generation request
type Request struct {
	Prompt      string
	System      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response represents a generation response
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Engine     string
}

var reasoningTags = regexp.MustCompile(`(?s)<think>.*?</think>|<reasoning>.*?</reasoning>`)

// StripReasoningTags removes chain-of-thought blocks some models emit
// before their answer.
func StripReasoningTags(text string) string {
	return strings.TrimSpace(reasoningTags.ReplaceAllString(text, ""))
}
