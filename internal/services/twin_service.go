package services

import (
	"context"

	"github.com/Belphemur/TwinQuery/internal/models"
)

// TwinService reads and updates individual device and module twins.
type TwinService interface {
	// GetTwin returns the current twin. A cached copy is revalidated with If-None-Match.
	GetTwin(ctx context.Context, id models.TwinID) (*models.TwinDocument, error)

	// UpdateTags merges tags into the twin. A nil value removes the tag. When etag is
	// non-empty the update only applies if the twin still carries that etag.
	UpdateTags(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error)

	// Close releases the twin cache.
	Close() error
}
