package weaviate

import (
	"context"
	"fmt"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"voltassist/internal/index"
	"voltassist/internal/text"
	"voltassist/internal/vector"
)

const pageSize = 100

// IndexStore persists an index as the objects of one Weaviate class. The
// class description records the embedding model and the expected object
// count, each object carries its chunk and vector. A class holding fewer
// objects than recorded is an interrupted save and loads as corrupt.
type IndexStore struct {
	client    *weaviate.Client
	schema    vector.SchemaClient
	className string
}

func NewIndexStore(client *weaviate.Client, className string) *IndexStore {
	return &IndexStore{
		client:    client,
		schema:    vector.NewSchemaAdapter(client),
		className: className,
	}
}

// Save replaces the class contents with idx.
func (s *IndexStore) Save(ctx context.Context, idx *index.Index) error {
	if err := s.schema.DeleteClass(ctx, s.className); err != nil {
		return fmt.Errorf("drop class %s: %w", s.className, err)
	}
	if err := vector.EnsureSchema(ctx, s.schema, s.className, idx.Model, idx.Len()); err != nil {
		return fmt.Errorf("create class %s: %w", s.className, err)
	}

	for start := 0; start < idx.Len(); start += pageSize {
		end := start + pageSize
		if end > idx.Len() {
			end = idx.Len()
		}
		objs := make([]*models.Object, 0, end-start)
		for i := start; i < end; i++ {
			e := idx.Entries[i]
			objs = append(objs, &models.Object{
				Class: s.className,
				Properties: map[string]interface{}{
					"content":     e.Chunk.Text,
					"sourceId":    e.Chunk.SourceID,
					"chunkOrder":  e.Chunk.Order,
					"startOffset": e.Chunk.Start,
					"endOffset":   e.Chunk.End,
					"globalOrder": i,
				},
				Vector: e.Vector,
			})
		}

		res, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
		if err != nil {
			return fmt.Errorf("batch insert: %w", err)
		}
		for _, r := range res {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch insert: %s", r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

func (s *IndexStore) Load(ctx context.Context) (*index.Index, error) {
	exists, err := s.schema.ClassExists(ctx, s.className)
	if err != nil {
		return nil, fmt.Errorf("check class %s: %w", s.className, err)
	}
	if !exists {
		return nil, index.ErrNotFound
	}
	class, err := s.schema.GetClass(ctx, s.className)
	if err != nil {
		return nil, fmt.Errorf("get class %s: %w", s.className, err)
	}
	model := vector.ModelOf(class)
	if model == "" {
		return nil, fmt.Errorf("%w: class %s has no embedding model", index.ErrCorrupt, s.className)
	}
	want, ok := vector.EntriesOf(class)
	if !ok {
		return nil, fmt.Errorf("%w: class %s has no entry count", index.ErrCorrupt, s.className)
	}

	type ordered struct {
		pos   int
		entry index.Entry
	}
	var all []ordered
	after := ""
	for {
		page, last, err := s.page(ctx, after)
		if err != nil {
			return nil, err
		}
		for _, obj := range page {
			e, pos, err := decodeObject(obj)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", index.ErrCorrupt, err)
			}
			all = append(all, ordered{pos: pos, entry: e})
		}
		if len(page) < pageSize {
			break
		}
		after = last
	}

	if len(all) != want {
		return nil, fmt.Errorf("%w: class %s holds %d of %d entries", index.ErrCorrupt, s.className, len(all), want)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })
	entries := make([]index.Entry, len(all))
	for i, o := range all {
		entries[i] = o.entry
	}
	idx, err := index.New(model, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrCorrupt, err)
	}
	return idx, nil
}

func (s *IndexStore) page(ctx context.Context, after string) ([]map[string]interface{}, string, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceId"},
		{Name: "chunkOrder"},
		{Name: "startOffset"},
		{Name: "endOffset"},
		{Name: "globalOrder"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "vector"}}},
	}

	q := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithLimit(pageSize).
		WithFields(fields...)
	if after != "" {
		q = q.WithAfter(after)
	}
	res, err := q.Do(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(res.Errors) > 0 {
		return nil, "", fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var out []map[string]interface{}
	last := ""
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if raw, ok := data[s.className].([]interface{}); ok {
			for _, item := range raw {
				props, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if add, ok := props["_additional"].(map[string]interface{}); ok {
					if id, ok := add["id"].(string); ok {
						last = id
					}
				}
				out = append(out, props)
			}
		}
	}
	return out, last, nil
}

func decodeObject(props map[string]interface{}) (index.Entry, int, error) {
	var e index.Entry
	content, ok := props["content"].(string)
	if !ok {
		return e, 0, fmt.Errorf("object without content")
	}
	e.Chunk = text.Chunk{Text: content}
	if v, ok := props["sourceId"].(string); ok {
		e.Chunk.SourceID = v
	}
	e.Chunk.Order = intProp(props, "chunkOrder")
	e.Chunk.Start = intProp(props, "startOffset")
	e.Chunk.End = intProp(props, "endOffset")
	pos := intProp(props, "globalOrder")

	add, _ := props["_additional"].(map[string]interface{})
	raw, _ := add["vector"].([]interface{})
	if len(raw) == 0 {
		return e, 0, fmt.Errorf("object %d has no vector", pos)
	}
	e.Vector = make([]float32, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return e, 0, fmt.Errorf("object %d has a non-numeric vector", pos)
		}
		e.Vector[i] = float32(f)
	}
	return e, pos, nil
}

func intProp(props map[string]interface{}, name string) int {
	if f, ok := props[name].(float64); ok {
		return int(f)
	}
	return 0
}
