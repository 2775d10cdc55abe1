package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"voltassist/internal/config"
	"voltassist/internal/index"
	"voltassist/internal/middleware"
)

var (
	ErrNoLocation      = errors.New("rebuild location is empty")
	ErrUnknownLocation = errors.New("rebuild location is not the configured index")
)

// RebuildConsumer rebuilds the knowledge index on request and swaps the
// result in for new retrievals. Turns already retrieving keep the index they
// started with.
type RebuildConsumer struct {
	rebuilder IndexRebuilder
	ref       IndexPublisher
	catalog   CatalogReloader
	location  string
	timeout   time.Duration
}

// NewRebuildConsumer only ever rebuilds defaultLocation; messages may omit
// it. catalog may be nil.
func NewRebuildConsumer(r IndexRebuilder, ref IndexPublisher, catalog CatalogReloader, defaultLocation string) *RebuildConsumer {
	return &RebuildConsumer{
		rebuilder: r,
		ref:       ref,
		catalog:   catalog,
		location:  defaultLocation,
		timeout:   30 * time.Minute,
	}
}

// Rebuild rebuilds the configured location, publishes the new index and
// reloads the form catalog. Any other location is refused.
func (c *RebuildConsumer) Rebuild(ctx context.Context, location string) (*index.Index, error) {
	if location == "" {
		location = c.location
	}
	if location == "" {
		return nil, ErrNoLocation
	}
	if location != c.location {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	}

	start := time.Now()
	slog.InfoContext(ctx, "index rebuild started", "location", location)
	idx, err := c.rebuilder.Rebuild(ctx, location)
	if err != nil {
		slog.ErrorContext(ctx, "index rebuild failed", "location", location, "error", err)
		return nil, fmt.Errorf("rebuild %s: %w", location, err)
	}
	c.ref.Store(idx)

	if c.catalog != nil {
		if err := c.catalog.ReloadCatalog(ctx); err != nil {
			slog.WarnContext(ctx, "failed to reload form catalog", "error", err)
		}
	}

	slog.InfoContext(ctx, "index rebuild finished", "location", location, "chunks", idx.Len(), "duration", time.Since(start))
	return idx, nil
}

func (c *RebuildConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload RebuildPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: retrying cannot fix malformed JSON.
		slog.Error("poison pill: invalid rebuild payload", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.Rebuild(ctx, payload.Location); err != nil {
		if errors.Is(err, ErrNoLocation) || errors.Is(err, ErrUnknownLocation) {
			slog.WarnContext(ctx, "dropping rebuild request", "location", payload.Location, "error", err)
			return nil
		}
		// Requeue; nsq backs off between attempts.
		return err
	}
	return nil
}

// Trigger queues rebuild requests on NSQ.
type Trigger struct {
	publisher TaskPublisher
}

func NewTrigger(p TaskPublisher) *Trigger {
	return &Trigger{publisher: p}
}

func (t *Trigger) RequestRebuild(ctx context.Context, location string) error {
	body, err := json.Marshal(RebuildPayload{
		Location:      location,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := t.publisher.Publish(config.TopicIndexRebuild, body); err != nil {
		return fmt.Errorf("publish rebuild request: %w", err)
	}
	slog.InfoContext(ctx, "index rebuild requested", "location", location)
	return nil
}
