// Package librelease implements the ZLS release coordination service: the
// publish validator, the version selector, the index materializer, and the
// manifest formatter, along with an HTTP facade over them.
package librelease

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zigtools/releaseworker/blobstore"
	"github.com/zigtools/releaseworker/datastore"
)

// Service owns the release coordination logic. All mutable state lives in
// the store and the blob store; a Service is safe for concurrent use.
type Service struct {
	store         datastore.ReleaseStore
	blobs         blobstore.Store
	publicURL     string
	apiToken      string
	forceMinisign bool
	limiter       *rate.Limiter

	// Deferred work (blob writes, index re-materialization) runs on bg
	// under bgCtx, which is detached from any request context so a
	// canceled publish never abandons a half-written blob set.
	bg    *errgroup.Group
	bgCtx context.Context

	now func() time.Time
}

// New returns a Service for the given options.
//
// Call [Service.Close] to drain deferred work before exiting.
func New(ctx context.Context, opts *Opts) (*Service, error) {
	if err := opts.Parse(); err != nil {
		return nil, err
	}
	s := &Service{
		store:         opts.Store,
		blobs:         opts.Blobs,
		publicURL:     opts.PublicURLBase,
		apiToken:      opts.APIToken,
		forceMinisign: opts.ForceMinisign,
		now:           time.Now,
	}
	if opts.PublishRate != 0 {
		s.limiter = rate.NewLimiter(opts.PublishRate, opts.PublishBurst)
	}
	s.bgCtx = context.WithoutCancel(ctx)
	s.bg, _ = errgroup.WithContext(s.bgCtx)
	s.bg.SetLimit(4)
	return s, nil
}

// Close waits for outstanding deferred work.
func (s *Service) Close(_ context.Context) error {
	return s.bg.Wait()
}

// Schedule runs fn on the background group with bounded retries. Blob
// writes are idempotent by key and the index write is last-writer-wins, so
// re-running a failed task is always safe.
func (s *Service) schedule(name string, fn func(context.Context) error) {
	s.bg.Go(func() error {
		ctx := s.bgCtx
		var err error
		for i, d := range []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second} {
			if d != 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
			if err = fn(ctx); err == nil {
				if i > 0 {
					slog.InfoContext(ctx, "deferred task recovered", "task", name, "attempts", i+1)
				}
				return nil
			}
			slog.WarnContext(ctx, "deferred task failed", "task", name, "attempt", i+1, "reason", err)
		}
		slog.ErrorContext(ctx, "deferred task abandoned", "task", name, "reason", err)
		return err
	})
}
