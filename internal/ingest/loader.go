package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"voltassist/internal/text"
)

var (
	ErrSourceUnavailable = errors.New("document source unavailable")
	ErrUnsupportedType   = errors.New("unsupported document type")
)

// Source is a flat object store holding the knowledge documents.
type Source interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Loader reads every supported object under a prefix and returns its
// normalized text. Objects that cannot be read or parsed are skipped.
type Loader struct {
	source Source
	prefix string
}

func NewLoader(source Source, prefix string) *Loader {
	return &Loader{source: source, prefix: prefix}
}

func (l *Loader) Load(ctx context.Context) ([]text.Document, error) {
	keys, err := l.source.List(ctx, l.prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrSourceUnavailable, l.prefix, err)
	}

	var docs []text.Document
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		if !Supported(key) {
			slog.DebugContext(ctx, "skipping unsupported object", "key", key)
			continue
		}

		raw, err := l.source.Fetch(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch document", "key", key, "error", err)
			continue
		}
		content, err := Extract(key, raw)
		if err != nil {
			slog.WarnContext(ctx, "failed to extract document", "key", key, "error", err)
			continue
		}
		content = text.Normalize(content)
		if content == "" {
			slog.WarnContext(ctx, "document has no text", "key", key)
			continue
		}
		docs = append(docs, text.Document{ID: key, Text: content})
	}

	slog.InfoContext(ctx, "documents loaded", "prefix", l.prefix, "listed", len(keys), "loaded", len(docs))
	return docs, nil
}

// Supported reports whether key has an extension Extract understands.
func Supported(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// Extract returns the raw text of a document by extension.
func Extract(key string, raw []byte) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return extractPDF(raw)
	case ".txt", ".md":
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%s is not valid UTF-8", key)
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, key)
}

func extractPDF(raw []byte) (content string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(b), nil
}
