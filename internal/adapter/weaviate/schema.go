package weaviate

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"
)

// Schema is the live vector.SchemaClient. Concurrent starts may race to
// create the chunk class; losing that race is not an error.
type Schema struct {
	client *weaviate.Client
}

func NewSchema(client *weaviate.Client) *Schema {
	return &Schema{client: client}
}

func (s *Schema) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Schema) CreateClass(ctx context.Context, class *models.Class) error {
	err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if alreadyExists(err) {
		return nil
	}
	return err
}

func (s *Schema) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Schema) AddProperty(ctx context.Context, className string, property *models.Property) error {
	err := s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
	if alreadyExists(err) {
		return nil
	}
	return err
}

func alreadyExists(err error) bool {
	var werr *fault.WeaviateClientError
	if !errors.As(err, &werr) {
		return false
	}
	return werr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(werr.Msg), "already exists")
}
