// Package mem implements the release store in process memory.
//
// It is the reference implementation the disk-backed stores are tested
// against, and is handy for tests and local development. Data does not
// survive the process.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/datastore"
)

// Store is an in-memory [datastore.ReleaseStore].
//
// The zero value is not usable; see [New].
type Store struct {
	mu   sync.RWMutex
	recs map[string]*releaseworker.ReleaseRecord
}

var _ datastore.ReleaseStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{recs: make(map[string]*releaseworker.ReleaseRecord)}
}

func clone(r *releaseworker.ReleaseRecord) *releaseworker.ReleaseRecord {
	c := *r
	c.Artifacts = append([]releaseworker.ReleaseArtifact(nil), r.Artifacts...)
	c.TestedZigVersions = make(map[string]releaseworker.Compatibility, len(r.TestedZigVersions))
	for k, v := range r.TestedZigVersions {
		c.TestedZigVersions[k] = v
	}
	return &c
}

// Collect returns clones of the records matching keep, sorted by less.
func (s *Store) collect(keep func(releaseworker.Version) bool, less func(a, b releaseworker.Version) bool) []*releaseworker.ReleaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*releaseworker.ReleaseRecord
	for _, r := range s.recs {
		if keep(r.ZLSVersion) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].ZLSVersion, out[j].ZLSVersion) })
	return out
}

// AllTaggedDesc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedDesc(_ context.Context) ([]*releaseworker.ReleaseRecord, error) {
	return s.collect(
		func(v releaseworker.Version) bool { return v.IsTagged() },
		func(a, b releaseworker.Version) bool { return b.Less(a) },
	), nil
}

// AllTaggedAsc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedAsc(_ context.Context) ([]*releaseworker.ReleaseRecord, error) {
	return s.collect(
		func(v releaseworker.Version) bool { return v.IsTagged() },
		releaseworker.Version.Less,
	), nil
}

// TaggedByMinor implements [datastore.ReleaseStore].
func (s *Store) TaggedByMinor(_ context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error) {
	return s.collect(
		func(v releaseworker.Version) bool {
			return v.IsTagged() && v.Major == major && v.Minor == minor
		},
		func(a, b releaseworker.Version) bool { return a.Patch > b.Patch },
	), nil
}

// DevByMinor implements [datastore.ReleaseStore].
func (s *Store) DevByMinor(_ context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error) {
	return s.collect(
		func(v releaseworker.Version) bool {
			return v.IsDev && v.Major == major && v.Minor == minor
		},
		func(a, b releaseworker.Version) bool { return a.CommitHeight < b.CommitHeight },
	), nil
}

// DevByQuad implements [datastore.ReleaseStore].
func (s *Store) DevByQuad(_ context.Context, major, minor, patch, height uint32) (*releaseworker.ReleaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recs {
		v := r.ZLSVersion
		if v.IsDev && v.Major == major && v.Minor == minor && v.Patch == patch && v.CommitHeight == height {
			return clone(r), nil
		}
	}
	return nil, nil
}

// GetByVersion implements [datastore.ReleaseStore].
func (s *Store) GetByVersion(_ context.Context, version string) (*releaseworker.ReleaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[version]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

// UpsertRecord implements [datastore.ReleaseStore].
func (s *Store) UpsertRecord(_ context.Context, rec *releaseworker.ReleaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(rec)
	return nil
}

func (s *Store) upsertLocked(rec *releaseworker.ReleaseRecord) {
	key := rec.ZLSVersion.String()
	if _, ok := s.recs[key]; ok {
		return
	}
	s.recs[key] = clone(rec)
}

// PatchTestedZigVersions implements [datastore.ReleaseStore].
func (s *Store) PatchTestedZigVersions(_ context.Context, zlsVersion string, tested map[string]releaseworker.Compatibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patchLocked(zlsVersion, tested)
}

func (s *Store) patchLocked(zlsVersion string, tested map[string]releaseworker.Compatibility) error {
	r, ok := s.recs[zlsVersion]
	if !ok {
		return &unknownReleaseError{version: zlsVersion}
	}
	if r.TestedZigVersions == nil {
		r.TestedZigVersions = make(map[string]releaseworker.Compatibility, len(tested))
	}
	for k, c := range tested {
		r.TestedZigVersions[k] = c
	}
	return nil
}

// Batch implements [datastore.ReleaseStore].
func (s *Store) Batch(_ context.Context, rec *releaseworker.ReleaseRecord, tested map[string]releaseworker.Compatibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(rec)
	return s.patchLocked(rec.ZLSVersion.String(), tested)
}

type unknownReleaseError struct {
	version string
}

func (e *unknownReleaseError) Error() string {
	return "mem: patch of unknown release " + e.version
}
