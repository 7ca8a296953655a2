// Package llm defines the provider contract the engine drives: a client
// that opens a streaming responses-API call and yields provider-neutral
// chunks. Concrete adapters live in the subpackages.
package llm

import (
	"context"

	"github.com/haasonsaas/convo/pkg/models"
)

// Client opens streaming model requests. The engine acquires a client
// through the host's GetClient hook per request.
type Client interface {
	// StreamResponse starts a streaming request with the given parameter
	// set and returns the chunk stream.
	StreamResponse(ctx context.Context, params models.ResponseParams) (Stream, error)
}

// Stream yields chunks until io.EOF. Close releases the underlying
// connection and is safe to call more than once.
type Stream interface {
	Next() (models.StreamChunk, error)
	Close() error
}
