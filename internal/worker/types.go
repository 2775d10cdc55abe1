package worker

import (
	"context"

	"voltassist/internal/index"
)

// RebuildPayload is the body of an index.rebuild message.
type RebuildPayload struct {
	Location      string `json:"location"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type IndexRebuilder interface {
	Rebuild(ctx context.Context, location string) (*index.Index, error)
}

// IndexPublisher makes a rebuilt index visible to readers. *index.Ref
// satisfies it.
type IndexPublisher interface {
	Store(idx *index.Index)
}

// CatalogReloader refreshes the downloadable form list after a rebuild.
type CatalogReloader interface {
	ReloadCatalog(ctx context.Context) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}
