package rag

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"voltassist/internal/index"
	"voltassist/internal/text"
)

// Policy is the fixed wording the answer prompt enforces.
type Policy struct {
	Utility string
	Refusal string
	NoInfo  string
}

// Generator answers a question from retrieved chunks under the policy
// prompt. The form list is bound when the Generator is created; a changed
// catalog needs a new Generator.
type Generator struct {
	completer Completer
	policy    Policy
	forms     string
	maxTokens int
}

// NewGenerator binds forms into the prompt. An empty list renders as "None".
func NewGenerator(c Completer, policy Policy, forms []string, maxTokens int) *Generator {
	list := "None"
	if len(forms) > 0 {
		list = strings.Join(forms, ", ")
	}
	return &Generator{completer: c, policy: policy, forms: list, maxTokens: maxTokens}
}

// Generate uses the original question, not the condensed one, so the reply
// addresses what the user actually asked.
func (g *Generator) Generate(ctx context.Context, question string, hits []index.Hit, history []Turn) (*Answer, error) {
	prompt, err := g.Render(question, hits, history)
	if err != nil {
		return nil, err
	}

	out, err := g.completer.Complete(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %v", ErrCompletion, err)
	}
	return &Answer{Text: strings.TrimSpace(out), Sources: chunks(hits)}, nil
}

func (g *Generator) Render(question string, hits []index.Hit, history []Turn) (string, error) {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, strings.TrimSpace(h.Chunk.Text))
	}

	var buf bytes.Buffer
	err := answerTmpl.Execute(&buf, answerData{
		Utility:  g.policy.Utility,
		Refusal:  g.policy.Refusal,
		NoInfo:   g.policy.NoInfo,
		Forms:    g.forms,
		History:  formatHistory(history),
		Context:  strings.Join(parts, "\n\n"),
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return buf.String(), nil
}

func chunks(hits []index.Hit) []text.Chunk {
	out := make([]text.Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Chunk)
	}
	return out
}

func sources(hits []index.Hit) []string { return SourceIDs(chunks(hits)) }
