// Package extract recovers a structured {reply, artifact} pair from
// free-form generator output. Models wrap JSON in prose or code
// fences, double-encode it, or omit fields entirely; extraction is an
// ordered list of recovery strategies that degrades to raw-text
// passthrough instead of failing.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solverhub/solver-node/internal/metrics"
)

// NoUpdate is the sentinel artifact value meaning "do not change the
// working artifact". It is resolved against prior outputs by Resolve.
const NoUpdate = "no update"

// Result is the extracted pair.
type Result struct {
	Reply    string `json:"reply"`
	Artifact string `json:"artifact"`
}

// Prior is a read-only view of an earlier result in the same chain,
// used only to resolve the NoUpdate sentinel.
type Prior struct {
	Source   string
	Reply    string
	Artifact string
}

// Parse turns raw generator text into a Result. It never fails: when
// every strategy is exhausted the whole raw text becomes the reply and
// the artifact is the NoUpdate sentinel.
func Parse(raw string) Result {
	text := strings.TrimSpace(raw)

	candidate := text
	if c, ok := labeledFence(text); ok {
		candidate = c
	} else if c, ok := parsableFence(text); ok {
		candidate = c
	}

	if !strings.HasPrefix(candidate, "{") {
		if c, ok := sliceBraces(candidate); ok {
			candidate = c
		}
	}

	if res, ok := parseObject(candidate, raw); ok {
		return res
	}

	// Brace-matching fallbacks. The backward scan is best-effort: text
	// holding several unrelated JSON fragments can match the wrong one.
	metrics.ExtractionFallbacks.Inc()
	for _, find := range []func(string) (string, bool){lastBalancedObject, firstBalancedObject} {
		if c, ok := find(text); ok {
			if res, ok := parseObject(c, raw); ok {
				return res
			}
		}
	}

	return Result{Reply: raw, Artifact: NoUpdate}
}

// Resolve applies the carry-forward rule: a NoUpdate artifact is
// replaced by the first non-sentinel artifact found in the prior
// chain, in chain order. Anything else passes through untouched.
func Resolve(res Result, priors []Prior) Result {
	if res.Artifact != NoUpdate {
		return res
	}
	for _, p := range priors {
		if p.Artifact != "" && p.Artifact != NoUpdate {
			res.Artifact = p.Artifact
			return res
		}
	}
	return res
}

// labeledFence extracts the interior of a ```json fenced block.
func labeledFence(text string) (string, bool) {
	i := strings.Index(text, "```json")
	if i < 0 {
		return "", false
	}
	rest := text[i+len("```json"):]
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// parsableFence scans every fenced block and returns the first one
// whose interior parses as a JSON object.
func parsableFence(text string) (string, bool) {
	parts := strings.Split(text, "```")
	for i := 1; i < len(parts); i += 2 {
		block := strings.TrimSpace(parts[i])
		block = strings.TrimSpace(strings.TrimPrefix(block, "json"))
		if strings.HasPrefix(block, "{") && json.Valid([]byte(block)) {
			return block, true
		}
	}
	return "", false
}

// sliceBraces cuts the text between the first { and the last }.
func sliceBraces(text string) (string, bool) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}

// lastBalancedObject finds the last complete JSON object by scanning
// backward from the final closing brace.
func lastBalancedObject(text string) (string, bool) {
	last := strings.LastIndex(text, "}")
	if last < 0 {
		return "", false
	}
	depth := 0
	for i := last; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return text[i : last+1], true
			}
		}
	}
	return "", false
}

// firstBalancedObject finds the first complete JSON object by scanning
// forward from the first opening brace.
func firstBalancedObject(text string) (string, bool) {
	first := strings.Index(text, "{")
	if first < 0 {
		return "", false
	}
	depth := 0
	for i := first; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[first : i+1], true
			}
		}
	}
	return "", false
}

// parseObject parses a candidate as the {reply, artifact} object. Both
// fields are optional: reply defaults to the raw text, artifact to the
// NoUpdate sentinel.
func parseObject(candidate, raw string) (Result, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil || obj == nil {
		return Result{}, false
	}

	reply := raw
	if v, ok := obj["reply"]; ok {
		if s, ok := v.(string); ok {
			reply = s
		} else {
			reply = stringify(v)
		}
	}

	artifact := any(NoUpdate)
	if v, ok := obj["artifact"]; ok && v != nil {
		artifact = v
	}

	// Models sometimes encode the whole object a second time inside the
	// reply field. Unwrap one level and prefer the inner fields.
	if innerReply, innerArtifact, ok := unwrapEncodedReply(reply); ok {
		reply = innerReply
		if innerArtifact != nil {
			artifact = innerArtifact
		}
	}

	return Result{Reply: reply, Artifact: normalizeArtifact(artifact)}, true
}

// unwrapEncodedReply detects a reply that is itself a JSON-encoded
// object carrying a reply field and returns the inner fields.
func unwrapEncodedReply(reply string) (string, any, bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return "", nil, false
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(reply), &inner); err != nil || inner == nil {
		return "", nil, false
	}
	innerReply, ok := inner["reply"].(string)
	if !ok {
		return "", nil, false
	}
	innerArtifact, hasArtifact := inner["artifact"]
	if !hasArtifact {
		return innerReply, nil, true
	}
	return innerReply, innerArtifact, true
}

// normalizeArtifact flattens a non-scalar artifact value into a single
// string: objects prefer their content field, lists join with a blank
// line, and anything else is serialized as formatted JSON.
func normalizeArtifact(v any) string {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
			(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
			var inner any
			if err := json.Unmarshal([]byte(t), &inner); err == nil && inner != nil {
				return normalizeArtifact(inner)
			}
		}
		return t
	case map[string]any:
		if content, ok := t["content"]; ok {
			if parts, ok := content.([]any); ok {
				return joinParts(parts)
			}
			if s, ok := content.(string); ok {
				return s
			}
			return stringify(content)
		}
		b, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case []any:
		return joinParts(t)
	case nil:
		return NoUpdate
	default:
		return stringify(t)
	}
}

func joinParts(parts []any) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s, ok := p.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, stringify(p))
		}
	}
	return strings.Join(out, "\n\n")
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
