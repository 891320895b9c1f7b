package librelease_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/librelease"
)

func shasum(c byte) string { return strings.Repeat(string(c), 64) }

// Request builds a well-formed tagged publish that individual tests then
// break in interesting ways.
func validPublish(zls, zig string) *librelease.PublishRequest {
	return &librelease.PublishRequest{
		ZLSVersion:               zls,
		ZigVersion:               zig,
		MinimumBuildZigVersion:   zig,
		MinimumRuntimeZigVersion: zig,
		Compatibility:            "full",
		Artifacts: map[string]librelease.ArtifactUpload{
			"zls-linux-x86_64-" + zls + ".tar.xz":   {Shasum: shasum('a'), Size: 1024},
			"zls-linux-x86_64-" + zls + ".tar.gz":   {Shasum: shasum('b'), Size: 2048},
			"zls-windows-x86_64-" + zls + ".zip":    {Shasum: shasum('c'), Size: 512},
			"zls-macos-aarch64-" + zls + ".tar.xz":  {Shasum: shasum('d'), Size: 1024},
			"zls-macos-aarch64-" + zls + ".tar.gz":  {Shasum: shasum('e'), Size: 2048},
		},
	}
}

func TestPublishTagged(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.svc.Publish(ctx, validPublish("0.1.0", "0.1.0")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	rec, err := env.store.GetByVersion(ctx, "0.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("record not stored")
	}
	if got := rec.TestedZigVersions["0.1.0"]; got != releaseworker.CompatFull {
		t.Errorf("testedZigVersions[0.1.0] = %v, want full", got)
	}
	if rec.Date == 0 {
		t.Error("record has no publish date")
	}
	if len(rec.Artifacts) != 5 {
		t.Errorf("stored %d artifacts, want 5", len(rec.Artifacts))
	}

	// The index is re-materialized as deferred work.
	if err := env.svc.Close(ctx); err != nil {
		t.Fatal(err)
	}
	body, ok := env.blobs.get(librelease.IndexKey)
	if !ok {
		t.Fatal("index.json not written")
	}
	if !strings.Contains(string(body), `"0.1.0"`) {
		t.Errorf("index does not list the release: %s", body)
	}
}

func TestPublishRejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	mutate := func(fn func(*librelease.PublishRequest)) *librelease.PublishRequest {
		req := validPublish("0.1.0", "0.1.0")
		fn(req)
		return req
	}
	tt := []struct {
		Name string
		Req  *librelease.PublishRequest
		Want releaseworker.PublishErrorKind
	}{
		{
			Name: "MissingTarGz",
			Req: mutate(func(r *librelease.PublishRequest) {
				delete(r.Artifacts, "zls-linux-x86_64-0.1.0.tar.gz")
			}),
			Want: releaseworker.ErrExtensionSet,
		},
		{
			Name: "WindowsTarball",
			Req: mutate(func(r *librelease.PublishRequest) {
				delete(r.Artifacts, "zls-windows-x86_64-0.1.0.zip")
				r.Artifacts["zls-windows-x86_64-0.1.0.tar.xz"] = librelease.ArtifactUpload{Shasum: shasum('c'), Size: 1}
				r.Artifacts["zls-windows-x86_64-0.1.0.tar.gz"] = librelease.ArtifactUpload{Shasum: shasum('c'), Size: 1}
			}),
			Want: releaseworker.ErrExtensionSet,
		},
		{
			Name: "TeapotMajor",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.ZLSVersion = "1.0.0"
				r.Artifacts = map[string]librelease.ArtifactUpload{}
				r.Compatibility = "none"
			}),
			Want: releaseworker.ErrUnsupportedMajor,
		},
		{
			Name: "MalformedVersion",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.ZigVersion = "latest"
			}),
			Want: releaseworker.ErrMalformedField,
		},
		{
			Name: "MalformedCompatibility",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Compatibility = "mostly"
			}),
			Want: releaseworker.ErrMalformedField,
		},
		{
			Name: "DevPatchNonzero",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.ZLSVersion = "0.1.1-dev.2+abcdef1"
			}),
			Want: releaseworker.ErrDevPatchNonzero,
		},
		{
			Name: "BadArtifactName",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls.tar.xz"] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 1}
			}),
			Want: releaseworker.ErrArtifactNaming,
		},
		{
			Name: "ArtifactVersionMismatch",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls-linux-x86_64-0.2.0.tar.xz"] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 1}
			}),
			Want: releaseworker.ErrVersionMismatch,
		},
		{
			Name: "BadShasum",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls-linux-x86_64-0.1.0.tar.xz"] = librelease.ArtifactUpload{Shasum: "abc", Size: 1}
			}),
			Want: releaseworker.ErrArtifactShasum,
		},
		{
			Name: "EmptyArtifact",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls-linux-x86_64-0.1.0.tar.xz"] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 0}
			}),
			Want: releaseworker.ErrArtifactEmpty,
		},
		{
			Name: "TaggedBuiltWithDevZig",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.ZigVersion = "0.1.0-dev.5+abcdef1"
			}),
			Want: releaseworker.ErrVersionMismatch,
		},
		{
			Name: "TaggedWithoutArtifacts",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts = map[string]librelease.ArtifactUpload{}
			}),
			Want: releaseworker.ErrTaggedWithoutArtifacts,
		},
		{
			Name: "TaggedOnlyRuntime",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Compatibility = "only-runtime"
			}),
			Want: releaseworker.ErrCompatibilityMismatch,
		},
		{
			Name: "ArtifactsWithCompatibilityNone",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.ZLSVersion = "0.1.0-dev.2+abcdef1"
				renamed := make(map[string]librelease.ArtifactUpload, len(r.Artifacts))
				for name, up := range r.Artifacts {
					renamed[strings.Replace(name, "0.1.0", "0.1.0-dev.2+abcdef1", 1)] = up
				}
				r.Artifacts = renamed
				r.Compatibility = "none"
			}),
			Want: releaseworker.ErrCompatibilityMismatch,
		},
		{
			Name: "SignatureWithoutArtifact",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls-linux-aarch64-0.1.0.tar.xz.minisig"] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 1}
			}),
			Want: releaseworker.ErrArtifactNaming,
		},
		{
			Name: "PartialSignatures",
			Req: mutate(func(r *librelease.PublishRequest) {
				r.Artifacts["zls-linux-x86_64-0.1.0.tar.xz.minisig"] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 1}
			}),
			Want: releaseworker.ErrMissingMinisign,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			err := env.svc.Publish(ctx, tc.Req)
			if err == nil {
				t.Fatal("publish accepted, want rejection")
			}
			if !errors.Is(err, tc.Want) {
				t.Errorf("got %v, want kind %v", err, tc.Want)
			}
		})
	}
}

func TestPublishDevConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first := validPublish("0.13.0-dev.1+aaaaaaa", "0.13.0-dev.5+ccccccc")
	if err := env.svc.Publish(ctx, first); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	second := validPublish("0.13.0-dev.1+bbbbbbb", "0.13.0-dev.5+ccccccc")
	err := env.svc.Publish(ctx, second)
	if !errors.Is(err, releaseworker.ErrConflictingDevCommit) {
		t.Errorf("got %v, want conflicting-dev-commit", err)
	}

	// The exact same build republished with a new Zig datapoint is fine
	// and only patches the tested map.
	repub := validPublish("0.13.0-dev.1+aaaaaaa", "0.13.0-dev.9+ddddddd")
	repub.Compatibility = "only-runtime"
	if err := env.svc.Publish(ctx, repub); err != nil {
		t.Fatalf("republish: %v", err)
	}
	rec, err := env.store.GetByVersion(ctx, "0.13.0-dev.1+aaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]releaseworker.Compatibility{
		"0.13.0-dev.5+ccccccc": releaseworker.CompatFull,
		"0.13.0-dev.9+ddddddd": releaseworker.CompatOnlyRuntime,
	}
	for k, c := range want {
		if rec.TestedZigVersions[k] != c {
			t.Errorf("testedZigVersions[%s] = %v, want %v", k, rec.TestedZigVersions[k], c)
		}
	}
}

func TestPublishFailedBuild(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A failed build against an unknown release is rejected.
	failed := &librelease.PublishRequest{
		ZLSVersion:               "0.13.0-dev.1+aaaaaaa",
		ZigVersion:               "0.13.0-dev.20+eeeeeee",
		MinimumBuildZigVersion:   "0.13.0-dev.5+ccccccc",
		MinimumRuntimeZigVersion: "0.13.0-dev.5+ccccccc",
		Compatibility:            "none",
		Artifacts:                map[string]librelease.ArtifactUpload{},
	}
	if err := env.svc.Publish(ctx, failed); !errors.Is(err, releaseworker.ErrFailedBuildNotUpdatable) {
		t.Errorf("got %v, want failed-build-not-updatable", err)
	}

	// Against an existing release it is a datapoint.
	if err := env.svc.Publish(ctx, validPublish("0.13.0-dev.1+aaaaaaa", "0.13.0-dev.5+ccccccc")); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Publish(ctx, failed); err != nil {
		t.Fatalf("failed-build datapoint: %v", err)
	}
	rec, err := env.store.GetByVersion(ctx, "0.13.0-dev.1+aaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.TestedZigVersions["0.13.0-dev.20+eeeeeee"]; got != releaseworker.CompatNone {
		t.Errorf("testedZigVersions = %v, want none", got)
	}
	if len(rec.Artifacts) == 0 {
		t.Error("failed-build datapoint wiped the stored artifacts")
	}
}

func TestPublishMinisign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sign := func(req *librelease.PublishRequest) {
		names := make([]string, 0, len(req.Artifacts))
		for name := range req.Artifacts {
			names = append(names, name)
		}
		for _, name := range names {
			req.Artifacts[name+releaseworker.MinisignExt] = librelease.ArtifactUpload{Shasum: shasum('f'), Size: 64}
		}
	}

	env := newTestEnv(t, nil)
	req := validPublish("0.1.0", "0.1.0")
	sign(req)
	if err := env.svc.Publish(ctx, req); err != nil {
		t.Fatalf("signed publish: %v", err)
	}
	rec, err := env.store.GetByVersion(ctx, "0.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Minisign {
		t.Error("record does not note its signatures")
	}

	// ForceMinisign rejects unsigned sets.
	force := newTestEnv(t, nil, func(o *librelease.Opts) { o.ForceMinisign = true })
	if err := force.svc.Publish(ctx, validPublish("0.1.0", "0.1.0")); !errors.Is(err, releaseworker.ErrMissingMinisign) {
		t.Errorf("got %v, want missing-minisign", err)
	}
	signed := validPublish("0.1.0", "0.1.0")
	sign(signed)
	if err := force.svc.Publish(ctx, signed); err != nil {
		t.Fatalf("signed publish under forceMinisign: %v", err)
	}
}

func TestPublishWritesBlobs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// The legacy form publish carries bytes; they land in the blob store.
	req := &librelease.PublishRequest{
		ZLSVersion:               "0.13.0-dev.1+aaaaaaa",
		ZigVersion:               "0.13.0-dev.5+ccccccc",
		MinimumBuildZigVersion:   "0.13.0-dev.5+ccccccc",
		MinimumRuntimeZigVersion: "0.13.0-dev.5+ccccccc",
		Compatibility:            "full",
		Artifacts: map[string]librelease.ArtifactUpload{
			"zls-linux-x86_64-0.13.0-dev.1+aaaaaaa.tar.xz": {
				// sha256("hello")
				Shasum: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
				Size:   5,
				Body:   strings.NewReader("hello"),
			},
			"zls-linux-x86_64-0.13.0-dev.1+aaaaaaa.tar.gz": {
				Shasum: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
				Size:   5,
				Body:   strings.NewReader("hello"),
			},
		},
	}
	if err := env.svc.Publish(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Close(ctx); err != nil {
		t.Fatal(err)
	}
	body, ok := env.blobs.get("zls-linux-x86_64-0.13.0-dev.1+aaaaaaa.tar.xz")
	if !ok {
		t.Fatal("artifact blob not written")
	}
	if string(body) != "hello" {
		t.Errorf("blob body = %q", body)
	}
}
