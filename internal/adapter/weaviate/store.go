package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/jabraham1/dok-tok/internal/vector"
)

// chunkNamespace seeds the UUIDv5 object ids derived from chunk ids.
var chunkNamespace = uuid.MustParse("6f1c2a0e-5b4d-4c3e-9a8f-2d7b1e0c9f34")

const pageSize = 100

type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	if className == "" {
		className = vector.DefaultClassName
	}
	return &Store{client: client, className: className}
}

// ObjectID maps a chunk id to the object UUID it is stored under, so writing
// the same chunk id twice replaces the earlier object.
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, NewSchema(s.client), s.className)
}

func (s *Store) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class:      s.className,
			ID:         ObjectID(c.ID),
			Properties: properties(c),
			Vector:     c.Vector,
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range res {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				errs = append(errs, fmt.Errorf("object %s: %s", r.ID, e.Message))
			}
		}
	}
	return errors.Join(errs...)
}

func properties(c vector.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"content":    c.Content,
		"chunkId":    c.ID,
		"source":     c.SourceID,
		"filename":   c.Metadata["filename"],
		"mediaType":  c.Metadata["media_type"],
		"chunkIndex": c.Index,
	}
}

func chunkFields(extra ...graphql.Field) []graphql.Field {
	return append([]graphql.Field{
		{Name: "content"},
		{Name: "chunkId"},
		{Name: "source"},
		{Name: "filename"},
		{Name: "mediaType"},
		{Name: "chunkIndex"},
	}, extra...)
}

func sourceFilter(source string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueText(source)
}

func (s *Store) NearVector(ctx context.Context, vec []float32, limit int, filter vector.Filter) ([]vector.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	q := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(chunkFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})...)
	if filter.Source != "" {
		q = q.WithWhere(sourceFilter(filter.Source))
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, graphQLError(res.Errors)
	}

	rows := s.rows(res.Data, "Get")
	matches := make([]vector.Match, 0, len(rows))
	for _, props := range rows {
		m := toMatch(props)
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Distance = float32(d)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// GetChunks returns the stored chunks of a source ordered by chunk index.
func (s *Store) GetChunks(ctx context.Context, source string) ([]vector.Match, error) {
	var out []vector.Match
	for offset := 0; ; offset += pageSize {
		res, err := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithWhere(sourceFilter(source)).
			WithSort(graphql.Sort{Path: []string{"chunkIndex"}, Order: graphql.Asc}).
			WithLimit(pageSize).
			WithOffset(offset).
			WithFields(chunkFields()...).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, graphQLError(res.Errors)
		}
		rows := s.rows(res.Data, "Get")
		for _, props := range rows {
			out = append(out, toMatch(props))
		}
		if len(rows) < pageSize {
			return out, nil
		}
	}
}

func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(sourceFilter(source)).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if res == nil || res.Results == nil {
		return 0, nil
	}
	return res.Results.Successful, nil
}

// CountChunks counts all chunks, or only those of source when it is set.
func (s *Store) CountChunks(ctx context.Context, source string) (int, error) {
	q := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if source != "" {
		q = q.WithWhere(sourceFilter(source))
	}

	res, err := q.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, graphQLError(res.Errors)
	}

	for _, row := range s.rows(res.Data, "Aggregate") {
		if meta, ok := row["meta"].(map[string]interface{}); ok {
			if count, ok := meta["count"].(float64); ok {
				return int(count), nil
			}
		}
	}
	return 0, nil
}

func (s *Store) rows(data map[string]models.JSONObject, op string) []map[string]interface{} {
	byClass, ok := data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := byClass[s.className].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func toMatch(props map[string]interface{}) vector.Match {
	m := vector.Match{Metadata: make(map[string]string)}
	if v, ok := props["content"].(string); ok {
		m.Content = v
	}
	if v, ok := props["chunkId"].(string); ok {
		m.ID = v
	}
	if v, ok := props["source"].(string); ok {
		m.SourceID = v
		m.Metadata["source"] = v
	}
	if v, ok := props["filename"].(string); ok && v != "" {
		m.Metadata["filename"] = v
	}
	if v, ok := props["mediaType"].(string); ok && v != "" {
		m.Metadata["media_type"] = v
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		m.Index = int(v)
	}
	return m
}

func graphQLError(errs []*models.GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}
