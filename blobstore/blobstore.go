// Package blobstore abstracts the object store holding release tarballs,
// signature sidecars, and the published index.json.
package blobstore

import (
	"context"
	"io"
)

// PutOpts carries per-object metadata.
type PutOpts struct {
	// ContentType is the MIME type stored alongside the object.
	ContentType string
	// CacheControl is handed through to whatever serves the object.
	CacheControl string
	// SHA256Hex, when non-empty, is the expected lowercase hex digest of
	// the object body. Implementations reject a body that does not match.
	SHA256Hex string
}

// Store is a write-only view of the object store. Reads are served by a
// CDN in front of the store, never by this service.
type Store interface {
	// Put stores the body under key, replacing any existing object.
	Put(ctx context.Context, key string, opts PutOpts, body io.Reader) error
}
