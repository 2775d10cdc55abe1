package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

const DefaultCompletionModel = "gemini-2.5-flash"

var ErrEmptyCompletion = errors.New("model returned no text")

// Completer sends a single prompt to a generative model and returns its text.
type Completer struct {
	client *genai.Client
	model  string
}

func NewCompleter(client *genai.Client, model string) *Completer {
	if model == "" {
		model = DefaultCompletionModel
	}
	return &Completer{client: client, model: model}
}

func (c *Completer) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	gm := c.client.GenerativeModel(c.model)
	if maxTokens > 0 {
		gm.SetMaxOutputTokens(int32(maxTokens))
	}

	slog.DebugContext(ctx, "requesting completion", "model", c.model, "prompt_length", len(prompt), "max_tokens", maxTokens)
	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "completion failed", "model", c.model, "error", err)
		return "", err
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		// Only the first candidate with content is used.
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return b.String(), nil
}
