package releaseworker

import (
	"errors"
	"fmt"
)

// PublishErrorKind classifies publish rejections. Each kind maps to a
// user-visible 4xx response in the HTTP layer.
type PublishErrorKind string

// The publish rejection taxonomy.
var (
	ErrArtifactNaming          = PublishErrorKind("artifact-naming")
	ErrArtifactShasum          = PublishErrorKind("artifact-shasum-shape")
	ErrArtifactEmpty           = PublishErrorKind("artifact-empty")
	ErrExtensionSet            = PublishErrorKind("extension-set-mismatch")
	ErrVersionMismatch         = PublishErrorKind("version-mismatch")
	ErrDevPatchNonzero         = PublishErrorKind("dev-patch-nonzero")
	ErrConflictingDevCommit    = PublishErrorKind("conflicting-dev-commit")
	ErrTaggedWithoutArtifacts  = PublishErrorKind("tagged-without-artifacts")
	ErrFailedBuildNotUpdatable = PublishErrorKind("failed-build-not-updatable")
	ErrCompatibilityMismatch   = PublishErrorKind("compatibility-mismatch")
	ErrMissingMinisign         = PublishErrorKind("missing-minisign")
	ErrMalformedField          = PublishErrorKind("malformed-field")

	// ErrUnsupportedMajor rejects any ZLS major version other than 0. The
	// HTTP layer answers it with 418; everything after 1.0 is somebody
	// else's problem.
	ErrUnsupportedMajor = PublishErrorKind("unsupported-major")
)

// Error implements error so kinds can be matched with [errors.Is].
func (k PublishErrorKind) Error() string { return string(k) }

// PublishError is the typed rejection returned by the publish validator.
//
// Create one at the validation site; intermediate layers wrap with
// fmt.Errorf and "%w" rather than nesting PublishErrors.
type PublishError struct {
	Kind    PublishErrorKind
	Message string
}

var (
	_ error                       = (*PublishError)(nil)
	_ interface{ Is(error) bool } = (*PublishError)(nil)
)

// Error implements error.
func (e *PublishError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is enables [errors.Is] comparison against a [PublishErrorKind].
func (e *PublishError) Is(tgt error) bool {
	return errors.Is(e.Kind, tgt)
}

// Rejectf constructs a PublishError of the given kind.
func Rejectf(kind PublishErrorKind, format string, args ...interface{}) *PublishError {
	return &PublishError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
