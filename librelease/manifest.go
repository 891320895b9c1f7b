package librelease

import (
	"fmt"
	"strconv"
	"time"

	"github.com/iancoleman/orderedmap"

	"github.com/zigtools/releaseworker"
)

// ArtifactEntry is the manifest entry for one (arch, os) target.
type ArtifactEntry struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
	// Size is serialized as a string; several downstream manifest
	// consumers treat every field as text.
	Size string `json:"size"`
}

// FormatDate renders a record's millisecond timestamp the way manifests
// carry it.
func formatDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// ArtifactEntries renders the manifest entries for r's artifacts, keyed
// "<arch>-<os>". The tar.gz variant is published for interoperability but
// omitted from manifests in favor of tar.xz. Duplicate targets are an
// invariant violation.
func (s *Service) artifactEntries(r *releaseworker.ReleaseRecord, into *orderedmap.OrderedMap) error {
	for i := range r.Artifacts {
		a := &r.Artifacts[i]
		if a.Extension == releaseworker.ExtTarGz {
			continue
		}
		key := fmt.Sprintf("%s-%s", a.Arch, a.OS)
		if _, dup := into.Get(key); dup {
			return fmt.Errorf("librelease: release %v has duplicate artifacts for %s", r.ZLSVersion, key)
		}
		into.Set(key, ArtifactEntry{
			Tarball: s.publicURL + "/" + a.DownloadFileName(r.ZLSVersion),
			Shasum:  a.FileShasum,
			Size:    strconv.FormatUint(a.FileSize, 10),
		})
	}
	return nil
}

// Manifest renders the single-release wire response for r.
func (s *Service) Manifest(r *releaseworker.ReleaseRecord) (*orderedmap.OrderedMap, error) {
	if s.publicURL == "" {
		return nil, errNoPublicURL
	}
	o := orderedmap.New()
	o.Set("version", r.ZLSVersion.String())
	o.Set("date", formatDate(r.Date))
	if err := s.artifactEntries(r, o); err != nil {
		return nil, err
	}
	return o, nil
}

// IndexManifest renders the multi-release index for recs, which must
// already be in the order the index should present (newest first).
func (s *Service) indexManifest(recs []*releaseworker.ReleaseRecord) (*orderedmap.OrderedMap, error) {
	if s.publicURL == "" {
		return nil, errNoPublicURL
	}
	idx := orderedmap.New()
	for _, r := range recs {
		o := orderedmap.New()
		o.Set("date", formatDate(r.Date))
		if err := s.artifactEntries(r, o); err != nil {
			return nil, err
		}
		idx.Set(r.ZLSVersion.String(), o)
	}
	return idx, nil
}

var errNoPublicURL = fmt.Errorf("librelease: no public URL base configured")
