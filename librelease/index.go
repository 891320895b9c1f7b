package librelease

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zigtools/releaseworker/blobstore"
)

// IndexKey is the well-known blob key the tagged-release index is published
// under.
const IndexKey = "index.json"

// IndexCacheControl is long: the index only changes when a release is
// published, and publishes rewrite the object in place.
const indexCacheControl = "public, max-age=86400"

// MaterializeIndex renders the full index of tagged releases and writes it
// to the blob store. The write is last-writer-wins on [IndexKey], and the
// rendering is deterministic, so re-running against unchanged storage
// produces a byte-identical object.
func (s *Service) MaterializeIndex(ctx context.Context) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "MaterializeIndex")
	defer span.End()

	recs, err := s.store.AllTaggedDesc(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := s.indexManifest(recs)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", " ")
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("librelease: encoding index: %w", err)
	}
	body := buf.Bytes()
	if err := s.blobs.Put(ctx, IndexKey, blobstore.PutOpts{
		ContentType:  "application/json",
		CacheControl: indexCacheControl,
	}, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("librelease: writing index: %w", err)
	}
	slog.InfoContext(ctx, "index materialized", "releases", len(recs), "bytes", len(body))
	return body, nil
}
