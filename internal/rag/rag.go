// Package rag holds the per-turn pipeline stages: condensing a follow-up into
// a standalone query, retrieving reference chunks, and generating an answer
// under the assistant's policy prompt.
package rag

import (
	"context"
	"errors"

	"voltassist/internal/text"
)

var (
	ErrEmbedding  = errors.New("embedding failed")
	ErrCompletion = errors.New("completion failed")
)

type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Turn is one completed question/answer exchange.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answer is the generated text and the retrieved chunks it was grounded on,
// in retrieval order.
type Answer struct {
	Text    string       `json:"text"`
	Sources []text.Chunk `json:"sources"`
}

// SourceIDs lists the distinct documents behind chunks in first-seen order.
func SourceIDs(chunks []text.Chunk) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, c := range chunks {
		if !seen[c.SourceID] {
			seen[c.SourceID] = true
			out = append(out, c.SourceID)
		}
	}
	return out
}
