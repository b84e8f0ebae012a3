// Package research provides external evidence lookup for signal validation.
package research

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the placeholder client when no search
// backend is configured.
var ErrNotConfigured = errors.New("research: no search backend configured")

// Evidence is one external search hit.
type Evidence struct {
	Query   string
	Title   string
	URL     string
	Snippet string
	Source  string
}

// Client is implemented by evidence search backends.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Evidence, error)
}

// PlaceholderClient fails every search. Validation degrades gracefully when
// no backend is wired.
type PlaceholderClient struct{}

var _ Client = PlaceholderClient{}

func (PlaceholderClient) Search(ctx context.Context, query string, limit int) ([]Evidence, error) {
	return nil, ErrNotConfigured
}
