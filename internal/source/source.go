/**
 * Document Sources - resolve queued document references to image bytes
 *
 * A reference is one of:
 * - url: downloaded over HTTP with exponential backoff
 * - blob: read from the configured Azure Blob container
 * - inline: bytes carried in the task payload
 */

package source

import (
	"context"
	"fmt"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
)

// Kind selects how a Reference is resolved
type Kind string

const (
	KindURL    Kind = "url"
	KindBlob   Kind = "blob"
	KindInline Kind = "inline"
)

// Reference points at a document's bytes
type Reference struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Fetcher loads the bytes behind a reference string
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Resolver routes a Reference to the fetcher for its kind
type Resolver struct {
	http Fetcher
	blob Fetcher
}

// NewResolver creates a resolver. Either fetcher may be nil, which disables
// that kind.
func NewResolver(http, blob Fetcher) *Resolver {
	return &Resolver{http: http, blob: blob}
}

// Resolve returns the document bytes for ref. jobID only labels errors.
func (r *Resolver) Resolve(ctx context.Context, jobID string, ref Reference) ([]byte, error) {
	switch ref.Kind {
	case KindInline:
		if len(ref.Data) == 0 {
			return nil, apperrors.NewInvalidInputError(jobID, "inline source carries no data")
		}
		return ref.Data, nil
	case KindURL:
		return r.fetch(ctx, jobID, r.http, ref)
	case KindBlob:
		return r.fetch(ctx, jobID, r.blob, ref)
	}
	return nil, apperrors.NewInvalidInputError(jobID, fmt.Sprintf("unknown source kind %q", ref.Kind))
}

func (r *Resolver) fetch(ctx context.Context, jobID string, f Fetcher, ref Reference) ([]byte, error) {
	if ref.Ref == "" {
		return nil, apperrors.NewInvalidInputError(jobID, fmt.Sprintf("%s source requires a ref", ref.Kind))
	}
	if f == nil {
		return nil, apperrors.NewInvalidInputError(jobID, fmt.Sprintf("%s sources are not configured", ref.Kind))
	}
	data, err := f.Fetch(ctx, ref.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s source: %w", ref.Kind, err)
	}
	return data, nil
}
