package librelease

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zigtools/releaseworker/blobstore"
	"github.com/zigtools/releaseworker/datastore"
)

// Opts configures a [Service].
type Opts struct {
	// Store is the release store. Required.
	Store datastore.ReleaseStore
	// Blobs receives artifact tarballs, signature sidecars, and the
	// published index.json. Required.
	Blobs blobstore.Store

	// PublicURLBase is the URL prefix clients download artifacts from, with
	// no trailing slash. Required for the read path; a Service without it
	// still accepts publishes.
	PublicURLBase string

	// APIToken authorizes publishes. Required for the HTTP publish
	// endpoint; a Service without it rejects all publishes over HTTP.
	APIToken string

	// ForceMinisign rejects publishes whose artifacts lack signature
	// sidecars. When unset, signatures must still be all-or-nothing across
	// an artifact set.
	ForceMinisign bool

	// PublishRate and PublishBurst bound the publish endpoint. Zero means
	// no limit.
	PublishRate  rate.Limit
	PublishBurst int
}

// Parse validates o, normalizing what it can.
func (o *Opts) Parse() error {
	if o.Store == nil {
		return errors.New("librelease: Opts: Store is required")
	}
	if o.Blobs == nil {
		return errors.New("librelease: Opts: Blobs is required")
	}
	if strings.HasSuffix(o.PublicURLBase, "/") {
		return fmt.Errorf("librelease: Opts: PublicURLBase must not end in a slash: %q", o.PublicURLBase)
	}
	if o.PublishRate != 0 && o.PublishBurst <= 0 {
		o.PublishBurst = 1
	}
	return nil
}
