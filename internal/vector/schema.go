package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

const (
	modelPrefix  = "embedding model: "
	entriesInfix = "; entries: "
)

// SchemaClient defines the Weaviate schema operations the index store needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

// ChunkProperties is the property set of a chunk class.
func ChunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "sourceId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "chunkOrder", DataType: []string{"int"}},
		{Name: "startOffset", DataType: []string{"int"}},
		{Name: "endOffset", DataType: []string{"int"}},
		{Name: "globalOrder", DataType: []string{"int"}},
	}
}

// ClassDescription records the embedding model and the number of objects a
// complete class holds.
func ClassDescription(model string, entries int) string {
	return modelPrefix + model + entriesInfix + strconv.Itoa(entries)
}

// EnsureSchema creates className for entries vectors from model, or adds any
// missing properties when it already exists. An existing class built for
// another model is reported, never altered.
func EnsureSchema(ctx context.Context, client SchemaClient, className, model string, entries int) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := ChunkProperties()
	if !exists {
		class := &models.Class{
			Class:       className,
			Description: ClassDescription(model, entries),
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}
	if got := ModelOf(class); got != model {
		return fmt.Errorf("class %s holds vectors from %q, not %q", className, got, model)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}
	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ModelOf reads the embedding model recorded on a chunk class.
func ModelOf(class *models.Class) string {
	if class == nil || !strings.HasPrefix(class.Description, modelPrefix) {
		return ""
	}
	model, _, _ := strings.Cut(strings.TrimPrefix(class.Description, modelPrefix), entriesInfix)
	return model
}

// EntriesOf reads the object count recorded on a chunk class. ok is false for
// a class written without one.
func EntriesOf(class *models.Class) (n int, ok bool) {
	if class == nil {
		return 0, false
	}
	_, raw, found := strings.Cut(class.Description, entriesInfix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
