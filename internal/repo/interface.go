package repo

import (
	"context"
	"errors"
)

// ErrUnknownDriver is returned by Open for an unsupported STORE_DRIVER value.
var ErrUnknownDriver = errors.New("unknown store driver")

// Backend persists the whole document. Save replaces the previous snapshot;
// there are no partial writes.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Load returns the stored document, or an empty one when nothing was saved yet.
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Close() error
}
