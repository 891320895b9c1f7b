package releaseworker

import (
	"fmt"
	"regexp"
	"strings"
)

// Extensions a release artifact may use. Windows builds ship as zip, every
// other target ships both tarball flavors.
const (
	ExtTarXz = "tar.xz"
	ExtTarGz = "tar.gz"
	ExtZip   = "zip"
)

// MinisignExt is the suffix of signature sidecar files.
const MinisignExt = ".minisig"

// ReleaseArtifact describes one downloadable build for a (os, arch) target.
type ReleaseArtifact struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Version    string `json:"version"`
	Extension  string `json:"extension"`
	FileShasum string `json:"fileShasum"`
	FileSize   uint64 `json:"fileSize"`
}

var artifactNamePattern = regexp.MustCompile(
	`^zls-([0-9a-zA-Z_]+)-([0-9a-zA-Z_]+)-(\d+\.\d+\.\d+(?:-dev\.\d+\+[0-9a-f]{7,9})?)\.(tar\.xz|tar\.gz|zip)$`)

var shasumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidShasum reports whether s looks like a lowercase hex SHA-256 digest.
func ValidShasum(s string) bool { return shasumPattern.MatchString(s) }

// ParseArtifactFileName parses an artifact file name of the form
// "zls-<os>-<arch>-<version>.<ext>". The signature sidecar suffix must be
// stripped by the caller.
func ParseArtifactFileName(name string) (a ReleaseArtifact, err error) {
	m := artifactNamePattern.FindStringSubmatch(name)
	if m == nil {
		return a, fmt.Errorf("invalid artifact file name %q", name)
	}
	a.OS, a.Arch, a.Version, a.Extension = m[1], m[2], m[3], m[4]
	return a, nil
}

// FileName returns the blob key the artifact is stored under. Artifacts are
// always stored os-first, regardless of the ZLS version.
func (a *ReleaseArtifact) FileName() string {
	return fmt.Sprintf("zls-%s-%s-%s.%s", a.OS, a.Arch, a.Version, a.Extension)
}

// targetFlipVersion is the first ZLS version whose download file names are
// arch-first. Earlier releases used os-first names; both remain valid keys in
// the blob store, so the flip only affects names rendered into manifests.
var targetFlipVersion = Version{Major: 0, Minor: 15, Patch: 0}

// DownloadFileName returns the file name rendered into manifests for the
// given ZLS version. The name flipped from "zls-<os>-<arch>-..." to
// "zls-<arch>-<os>-..." with ZLS 0.15.0.
func (a *ReleaseArtifact) DownloadFileName(zls Version) string {
	if zls.Compare(targetFlipVersion) >= 0 {
		return fmt.Sprintf("zls-%s-%s-%s.%s", a.Arch, a.OS, a.Version, a.Extension)
	}
	return a.FileName()
}

// IsMinisignName reports whether name is a signature sidecar, returning the
// signed file's name.
func IsMinisignName(name string) (string, bool) {
	s, ok := strings.CutSuffix(name, MinisignExt)
	return s, ok
}
