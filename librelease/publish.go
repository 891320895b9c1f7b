package librelease

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/blobstore"
)

// ArtifactUpload is one entry of a publish request's artifact map.
type ArtifactUpload struct {
	Shasum string `json:"shasum"`
	Size   uint64 `json:"size"`

	// Body carries the file bytes when the publisher used the legacy
	// multipart form. The canonical JSON publish ships metadata only; the
	// CI uploader pushes bytes to the blob store out of band.
	Body io.Reader `json:"-"`
}

// PublishRequest is a single CI datapoint: one ZLS version built (or not)
// with one Zig version, plus the artifacts that build produced.
type PublishRequest struct {
	ZLSVersion               string                    `json:"zlsVersion"`
	ZigVersion               string                    `json:"zigVersion"`
	MinimumBuildZigVersion   string                    `json:"minimumBuildZigVersion"`
	MinimumRuntimeZigVersion string                    `json:"minimumRuntimeZigVersion"`
	Compatibility            string                    `json:"compatibility"`
	Artifacts                map[string]ArtifactUpload `json:"artifacts"`
}

// Publish validates req and applies it to the store.
//
// Rejections are returned as a [*releaseworker.PublishError]; any other
// error means the store failed. On a first publish of fresh artifacts the
// blob writes and the index re-materialization are scheduled as deferred
// work and are not awaited.
func (s *Service) Publish(ctx context.Context, req *PublishRequest) error {
	ctx, span := tracer.Start(ctx, "Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("zls_version", req.ZLSVersion),
		attribute.String("zig_version", req.ZigVersion),
	)

	// Everything that can fail without touching the store fails here.
	p, err := validateRequest(req, s.forceMinisign)
	if err != nil {
		return err
	}

	fresh, err := s.checkAgainstStore(ctx, p)
	if err != nil {
		return err
	}

	rec := &releaseworker.ReleaseRecord{
		ZLSVersion:               p.zls,
		ZigVersion:               p.zig,
		MinimumBuildZigVersion:   p.minBuild,
		MinimumRuntimeZigVersion: p.minRuntime,
		Date:                     s.now().UnixMilli(),
		Artifacts:                p.artifacts,
		TestedZigVersions:        map[string]releaseworker.Compatibility{},
		Minisign:                 len(p.signatures) != 0,
	}
	tested := map[string]releaseworker.Compatibility{p.zig.String(): p.compat}
	if err := s.store.Batch(ctx, rec, tested); err != nil {
		return fmt.Errorf("librelease: storing publish: %w", err)
	}
	slog.InfoContext(ctx, "publish accepted",
		"zls", p.zls, "zig", p.zig, "compatibility", p.compat, "fresh", fresh)

	if fresh && len(p.artifacts) != 0 {
		s.scheduleBlobWrites(p, req)
		s.schedule("materialize-index", func(ctx context.Context) error {
			_, err := s.MaterializeIndex(ctx)
			return err
		})
	}
	return nil
}

// Parsed is the validated form of a PublishRequest.
type parsed struct {
	zls, zig             releaseworker.Version
	minBuild, minRuntime releaseworker.Version
	compat               releaseworker.Compatibility
	artifacts            []releaseworker.ReleaseArtifact
	// Signatures maps a signed artifact file name to its sidecar's upload
	// entry.
	signatures map[string]ArtifactUpload
}

func validateRequest(req *PublishRequest, forceMinisign bool) (*parsed, error) {
	var p parsed
	var err error
	for _, f := range []struct {
		name string
		dst  *releaseworker.Version
		val  string
	}{
		{"zlsVersion", &p.zls, req.ZLSVersion},
		{"zigVersion", &p.zig, req.ZigVersion},
		{"minimumBuildZigVersion", &p.minBuild, req.MinimumBuildZigVersion},
		{"minimumRuntimeZigVersion", &p.minRuntime, req.MinimumRuntimeZigVersion},
	} {
		if *f.dst, err = releaseworker.ParseVersion(f.val); err != nil {
			return nil, releaseworker.Rejectf(releaseworker.ErrMalformedField, "%s: %v", f.name, err)
		}
	}
	if p.compat, err = releaseworker.ParseCompatibility(req.Compatibility); err != nil {
		return nil, releaseworker.Rejectf(releaseworker.ErrMalformedField, "compatibility: %v", err)
	}

	// Project is pre-1.0. A major bump is a contract change, not a publish.
	if p.zls.Major != 0 {
		return nil, releaseworker.Rejectf(releaseworker.ErrUnsupportedMajor, "ZLS %v: only major version 0 is published here", p.zls)
	}
	// Development builds order by commit height within a minor; a nonzero
	// patch would shuffle that order.
	if p.zls.IsDev && p.zls.Patch != 0 {
		return nil, releaseworker.Rejectf(releaseworker.ErrDevPatchNonzero, "development build %v must have patch 0", p.zls)
	}

	p.signatures = make(map[string]ArtifactUpload)
	for name, up := range req.Artifacts {
		if signed, ok := releaseworker.IsMinisignName(name); ok {
			if _, ok := req.Artifacts[signed]; !ok {
				return nil, releaseworker.Rejectf(releaseworker.ErrArtifactNaming, "signature %q signs nothing in this publish", name)
			}
			p.signatures[signed] = up
			continue
		}
		a, err := releaseworker.ParseArtifactFileName(name)
		if err != nil {
			return nil, releaseworker.Rejectf(releaseworker.ErrArtifactNaming, "%v", err)
		}
		if a.Version != p.zls.String() {
			return nil, releaseworker.Rejectf(releaseworker.ErrVersionMismatch, "artifact %q does not match release %v", name, p.zls)
		}
		if !releaseworker.ValidShasum(up.Shasum) {
			return nil, releaseworker.Rejectf(releaseworker.ErrArtifactShasum, "artifact %q: shasum must be 64 hex characters", name)
		}
		if up.Size == 0 {
			return nil, releaseworker.Rejectf(releaseworker.ErrArtifactEmpty, "artifact %q has size 0", name)
		}
		a.FileShasum = up.Shasum
		a.FileSize = up.Size
		p.artifacts = append(p.artifacts, a)
	}
	sort.Slice(p.artifacts, func(i, j int) bool {
		return p.artifacts[i].FileName() < p.artifacts[j].FileName()
	})

	if err := checkExtensionSets(p.artifacts); err != nil {
		return nil, err
	}
	if err := checkSignatureSet(&p, forceMinisign); err != nil {
		return nil, err
	}

	if p.zls.IsTagged() {
		switch {
		case !p.zig.IsTagged():
			return nil, releaseworker.Rejectf(releaseworker.ErrVersionMismatch, "tagged release %v must be built with a tagged Zig, got %v", p.zls, p.zig)
		case len(p.artifacts) == 0:
			return nil, releaseworker.Rejectf(releaseworker.ErrTaggedWithoutArtifacts, "tagged release %v published without artifacts", p.zls)
		case p.compat != releaseworker.CompatFull:
			return nil, releaseworker.Rejectf(releaseworker.ErrCompatibilityMismatch, "tagged release %v must be published with full compatibility", p.zls)
		}
	}

	// An empty artifact set means "the build failed", which is exactly the
	// compatibility "none" datapoint. Either both or neither.
	if (len(p.artifacts) == 0) != (p.compat == releaseworker.CompatNone) {
		return nil, releaseworker.Rejectf(releaseworker.ErrCompatibilityMismatch,
			"artifacts empty: %t, compatibility: %v; a failed build is exactly compatibility \"none\"",
			len(p.artifacts) == 0, p.compat)
	}
	return &p, nil
}

func checkExtensionSets(artifacts []releaseworker.ReleaseArtifact) error {
	type group struct{ os, arch, version string }
	sets := make(map[group]map[string]struct{})
	for _, a := range artifacts {
		g := group{a.OS, a.Arch, a.Version}
		if sets[g] == nil {
			sets[g] = make(map[string]struct{})
		}
		if _, dup := sets[g][a.Extension]; dup {
			return releaseworker.Rejectf(releaseworker.ErrExtensionSet, "duplicate %s artifact for %s-%s", a.Extension, a.OS, a.Arch)
		}
		sets[g][a.Extension] = struct{}{}
	}
	for g, exts := range sets {
		want := []string{releaseworker.ExtTarGz, releaseworker.ExtTarXz}
		if g.os == "windows" {
			want = []string{releaseworker.ExtZip}
		}
		ok := len(exts) == len(want)
		for _, e := range want {
			if _, has := exts[e]; !has {
				ok = false
			}
		}
		if !ok {
			var got []string
			for e := range exts {
				got = append(got, e)
			}
			sort.Strings(got)
			return releaseworker.Rejectf(releaseworker.ErrExtensionSet,
				"%s-%s: extension set {%s} must be exactly {%s}",
				g.os, g.arch, strings.Join(got, ", "), strings.Join(want, ", "))
		}
	}
	return nil
}

func (s *Service) checkAgainstStore(ctx context.Context, p *parsed) (fresh bool, err error) {
	if len(p.artifacts) == 0 {
		// A failed build is only a datapoint against a release that
		// already exists.
		existing, err := s.store.GetByVersion(ctx, p.zls.String())
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, releaseworker.Rejectf(releaseworker.ErrFailedBuildNotUpdatable,
				"first publish of %v must carry artifacts", p.zls)
		}
		return false, nil
	}
	if p.zls.IsDev {
		existing, err := s.store.DevByQuad(ctx, p.zls.Major, p.zls.Minor, p.zls.Patch, p.zls.CommitHeight)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return true, nil
		}
		// First writer wins on the (major, minor, patch, height) quad.
		if existing.ZLSVersion.String() != p.zls.String() {
			return false, releaseworker.Rejectf(releaseworker.ErrConflictingDevCommit,
				"%v conflicts with already-published %v", p.zls, existing.ZLSVersion)
		}
		return false, nil
	}
	existing, err := s.store.GetByVersion(ctx, p.zls.String())
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

// CheckSignatureSet enforces the minisign policy: all-or-nothing always,
// all when forceMinisign is configured.
func checkSignatureSet(p *parsed, force bool) error {
	if len(p.signatures) == 0 {
		if force && len(p.artifacts) != 0 {
			return releaseworker.Rejectf(releaseworker.ErrMissingMinisign, "signatures are required for every artifact")
		}
		return nil
	}
	for _, a := range p.artifacts {
		if _, ok := p.signatures[a.FileName()]; !ok {
			return releaseworker.Rejectf(releaseworker.ErrMissingMinisign,
				"artifact %q has no signature; signatures must cover all artifacts or none", a.FileName())
		}
	}
	return nil
}

func (s *Service) scheduleBlobWrites(p *parsed, req *PublishRequest) {
	for i := range p.artifacts {
		a := p.artifacts[i]
		up := req.Artifacts[a.FileName()]
		if up.Body == nil {
			// Metadata-only publish; the artifact bytes were pushed to
			// the blob store by the uploader.
			continue
		}
		body := up.Body
		s.schedule("blob:"+a.FileName(), func(ctx context.Context) error {
			return s.blobs.Put(ctx, a.FileName(), blobstore.PutOpts{
				ContentType: contentTypeFor(a.Extension),
				SHA256Hex:   a.FileShasum,
			}, body)
		})
		if sig, ok := p.signatures[a.FileName()]; ok && sig.Body != nil {
			key := a.FileName() + releaseworker.MinisignExt
			sigBody := sig.Body
			s.schedule("blob:"+key, func(ctx context.Context) error {
				return s.blobs.Put(ctx, key, blobstore.PutOpts{
					ContentType: "text/plain",
				}, sigBody)
			})
		}
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case releaseworker.ExtTarXz:
		return "application/x-xz"
	case releaseworker.ExtTarGz:
		return "application/gzip"
	case releaseworker.ExtZip:
		return "application/zip"
	}
	return "application/octet-stream"
}
