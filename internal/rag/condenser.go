package rag

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Condenser rewrites a follow-up question into one that stands on its own.
type Condenser struct {
	completer Completer
	maxTokens int
}

func NewCondenser(c Completer, maxTokens int) *Condenser {
	return &Condenser{completer: c, maxTokens: maxTokens}
}

// Condense returns question unchanged when there is no history. A blank
// rewrite also falls back to the original question.
func (c *Condenser) Condense(ctx context.Context, question string, history []Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	var buf bytes.Buffer
	if err := condenseTmpl.Execute(&buf, condenseData{History: formatHistory(history), Question: question}); err != nil {
		return "", fmt.Errorf("render condense prompt: %w", err)
	}

	out, err := c.completer.Complete(ctx, buf.String(), c.maxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: condense: %v", ErrCompletion, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		slog.WarnContext(ctx, "condenser returned empty rewrite, using original question")
		return question, nil
	}
	return out, nil
}

func formatHistory(history []Turn) string {
	var b strings.Builder
	for _, t := range history {
		b.WriteString("User: ")
		b.WriteString(t.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Answer)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
