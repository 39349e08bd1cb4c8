package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

const DefaultClassName = "LabChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists the chunk properties of the collection class.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "chunkId", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		// Field tokenization keeps the whole value as one token for exact-match filters.
		{Name: "source", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: "filename", DataType: []string{"text"}},
		{Name: "mediaType", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: "chunkIndex", DataType: []string{"int"}},
	}
}

// EnsureSchema creates className when missing and adds any properties an
// older class lacks. Vectors are supplied by the caller.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	if className == "" {
		className = DefaultClassName
	}
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       className,
			Description: "An overlapping window of an uploaded lab document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = true
	}
	for _, p := range properties {
		if have[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, className, p); err != nil {
			return err
		}
	}
	return nil
}
