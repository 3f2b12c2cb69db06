// Package fingerprint derives stable identities for tasks so that
// independent solver nodes agree on what "the same task" means and can
// share solutions keyed by it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Input is one task input item. Query is required; Artifact is the
// working document attached to the item, empty when absent.
type Input struct {
	Query    string
	Artifact string
}

// canonical mirrors the hashed structure. Field order is the
// lexicographic key order, so encoding/json emits a byte-stable form.
type canonicalInput struct {
	Artifact string `json:"artifact"`
	Query    string `json:"query"`
}

type canonicalTask struct {
	Inputs []canonicalInput `json:"inputs"`
	Task   string           `json:"task"`
}

// Task computes the fingerprint for a task description and its input
// items: every string is trimmed, the canonical structure is encoded
// as compact JSON with sorted keys, and the SHA-256 digest is returned
// as 64 lowercase hex characters. The function is pure; two nodes
// given equivalent requests always produce the same digest.
func Task(task string, inputs []Input) string {
	c := canonicalTask{
		Task:   strings.TrimSpace(task),
		Inputs: make([]canonicalInput, 0, len(inputs)),
	}
	for _, in := range inputs {
		c.Inputs = append(c.Inputs, canonicalInput{
			Query:    strings.TrimSpace(in.Query),
			Artifact: strings.TrimSpace(in.Artifact),
		})
	}

	data, err := json.Marshal(c)
	if err != nil {
		// Marshalling a struct of strings cannot fail; a panic here
		// is a programming error, not a runtime condition.
		panic("fingerprint: marshal canonical task: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Text computes the fingerprint of a bare string.
func Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
