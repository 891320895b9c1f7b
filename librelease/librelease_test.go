package librelease_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/blobstore"
	"github.com/zigtools/releaseworker/datastore/mem"
	"github.com/zigtools/releaseworker/librelease"
)

const (
	testPublicURL = "https://builds.zigtools.org"
	testToken     = "s3kr3t"
)

// BlobRecorder captures blob writes for assertions.
type blobRecorder struct {
	mu      sync.Mutex
	objects map[string][]byte
	opts    map[string]blobstore.PutOpts
}

var _ blobstore.Store = (*blobRecorder)(nil)

func newBlobRecorder() *blobRecorder {
	return &blobRecorder{
		objects: make(map[string][]byte),
		opts:    make(map[string]blobstore.PutOpts),
	}
}

func (b *blobRecorder) Put(_ context.Context, key string, opts blobstore.PutOpts, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.opts[key] = opts
	return nil
}

func (b *blobRecorder) get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

type testEnv struct {
	svc   *librelease.Service
	store *mem.Store
	blobs *blobRecorder
}

type envConfig func(*librelease.Opts)

func newTestEnv(t *testing.T, recs []*releaseworker.ReleaseRecord, cfgs ...envConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := mem.New()
	for _, r := range recs {
		if err := store.UpsertRecord(ctx, r); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	blobs := newBlobRecorder()
	opts := &librelease.Opts{
		Store:         store,
		Blobs:         blobs,
		PublicURLBase: testPublicURL,
		APIToken:      testToken,
		PublishRate:   rate.Inf,
	}
	for _, cfg := range cfgs {
		cfg(opts)
	}
	svc, err := librelease.New(ctx, opts)
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(context.Background()); err != nil {
			t.Errorf("draining deferred work: %v", err)
		}
	})
	return &testEnv{svc: svc, store: store, blobs: blobs}
}

func mustVersion(t *testing.T, s string) releaseworker.Version {
	t.Helper()
	v, err := releaseworker.ParseVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// Record builds a seed record. Minimums and tested keys are version strings;
// withArtifacts attaches the canonical linux tarball pair.
func record(zls, zig, minBuild, minRuntime string, tested map[string]releaseworker.Compatibility, withArtifacts bool) *releaseworker.ReleaseRecord {
	r := &releaseworker.ReleaseRecord{
		ZLSVersion:               releaseworker.MustParseVersion(zls),
		ZigVersion:               releaseworker.MustParseVersion(zig),
		MinimumBuildZigVersion:   releaseworker.MustParseVersion(minBuild),
		MinimumRuntimeZigVersion: releaseworker.MustParseVersion(minRuntime),
		Date:                     1700000000000,
		TestedZigVersions:        tested,
	}
	if withArtifacts {
		r.Artifacts = []releaseworker.ReleaseArtifact{
			{OS: "linux", Arch: "x86_64", Version: zls, Extension: "tar.xz", FileShasum: strings.Repeat("a", 64), FileSize: 1024},
			{OS: "linux", Arch: "x86_64", Version: zls, Extension: "tar.gz", FileShasum: strings.Repeat("b", 64), FileSize: 2048},
		}
	}
	return r
}

// SampleReleases is the shared scenario fixture: two release cycles of
// development builds with holes in CI coverage, tagged releases around
// them, and a cycle that only exists via the previous tagged release.
func sampleReleases() []*releaseworker.ReleaseRecord {
	full := releaseworker.CompatFull
	runtime := releaseworker.CompatOnlyRuntime
	none := releaseworker.CompatNone
	return []*releaseworker.ReleaseRecord{
		record("0.9.0-dev.3+aaaaaaaaa", "0.9.0-dev.20+aaaaaaaaa", "0.9.0-dev.25+aaaaaaaaa", "0.9.0-dev.15+aaaaaaaaa",
			map[string]releaseworker.Compatibility{
				"0.9.0-dev.20+aaaaaaaaa": full,
				"0.9.0-dev.25+aaaaaaaaa": full,
				"0.9.0-dev.30+aaaaaaaaa": runtime,
			}, false),
		record("0.11.0", "0.11.0", "0.11.0", "0.11.0",
			map[string]releaseworker.Compatibility{"0.11.0": full}, true),
		record("0.12.0-dev.1+aaaaaaa", "0.11.0", "0.11.0", "0.11.0",
			map[string]releaseworker.Compatibility{
				"0.11.0":               full,
				"0.12.0-dev.2+aaaaaaa": full,
				"0.12.0-dev.3+aaaaaaa": full,
				"0.12.0-dev.5+aaaaaaa": full,
				"0.12.0-dev.7+aaaaaaa": none,
			}, false),
		record("0.12.0-dev.2+aaaaaaa", "0.12.0-dev.7+aaaaaaa", "0.11.0", "0.12.0-dev.7+aaaaaaa",
			map[string]releaseworker.Compatibility{
				"0.12.0-dev.7+aaaaaaa":  full,
				"0.12.0-dev.8+aaaaaaa":  full,
				"0.12.0-dev.9+aaaaaaa":  none,
				"0.12.0-dev.11+aaaaaaa": none,
			}, false),
		record("0.12.0-dev.3+aaaaaaa", "0.12.0-dev.17+aaaaaaa", "0.11.0", "0.12.0-dev.14+aaaaaaa",
			map[string]releaseworker.Compatibility{
				"0.12.0-dev.17+aaaaaaa": full,
			}, false),
		record("0.12.0", "0.12.0", "0.12.0", "0.12.0",
			map[string]releaseworker.Compatibility{
				"0.12.0": full,
				"0.12.1": full,
				"0.12.2": full,
			}, true),
		record("0.12.1", "0.12.0", "0.12.0", "0.12.0",
			map[string]releaseworker.Compatibility{"0.12.0": full}, true),
		record("0.13.0", "0.13.0", "0.13.0", "0.13.0",
			map[string]releaseworker.Compatibility{
				"0.13.0":               full,
				"0.14.0-dev.2+aaaaaaa": full,
				"0.14.0-dev.4+aaaaaaa": none,
			}, true),
	}
}
