package forms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const DefaultLinkTTL = time.Hour

type LinkIssuer interface {
	IssueDownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// LinkObserver counts link outcomes: "issued" or "failed".
type LinkObserver interface {
	ObserveLink(outcome string)
}

type Link struct {
	Form string `json:"form"`
	URL  string `json:"url"`
}

// Augmenter appends download links for every catalog form an answer names.
type Augmenter struct {
	catalog  *Catalog
	issuer   LinkIssuer
	ttl      time.Duration
	observer LinkObserver
}

func NewAugmenter(catalog *Catalog, issuer LinkIssuer, ttl time.Duration, observer LinkObserver) *Augmenter {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Augmenter{catalog: catalog, issuer: issuer, ttl: ttl, observer: observer}
}

// Matches returns the catalog forms whose stem occurs in answer, ignoring
// case, in catalog order.
func (a *Augmenter) Matches(answer string) []string {
	lower := strings.ToLower(answer)
	var out []string
	seen := make(map[string]bool)
	for _, name := range a.catalog.names {
		stem := strings.ToLower(Stem(name))
		if stem == "" || seen[name] {
			continue
		}
		if strings.Contains(lower, stem) {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Augment issues a fresh link per matched form. Forms whose link cannot be
// issued are left out; the answer itself is never lost.
func (a *Augmenter) Augment(ctx context.Context, answer string) (string, []Link) {
	matches := a.Matches(answer)
	if len(matches) == 0 {
		return answer, nil
	}

	var links []Link
	for _, name := range matches {
		url, err := a.issuer.IssueDownloadLink(ctx, a.catalog.Key(name), a.ttl)
		if err != nil {
			slog.WarnContext(ctx, "failed to issue form link", "form", name, "error", err)
			a.observe("failed")
			continue
		}
		a.observe("issued")
		links = append(links, Link{Form: name, URL: url})
	}
	if len(links) == 0 {
		return answer, nil
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n**Recommended downloads:**\n")
	for _, l := range links {
		fmt.Fprintf(&b, "- [%s](%s)\n", l.Form, l.URL)
	}
	return strings.TrimRight(b.String(), "\n"), links
}

func (a *Augmenter) observe(outcome string) {
	if a.observer != nil {
		a.observer.ObserveLink(outcome)
	}
}
