package librelease

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zigtools/releaseworker"
)

// FailureCode enumerates the typed, recoverable ways a selection can fail.
// The numeric values are part of the wire contract.
type FailureCode int

const (
	// Unsupported means the Zig version predates even the oldest known
	// support floor.
	Unsupported FailureCode = iota
	// DevelopmentBuildUnsupported means no ZLS builds exist for this
	// release cycle yet.
	DevelopmentBuildUnsupported
	// DevelopmentBuildIncompatible means builds exist but none is
	// compatible with this exact Zig nightly.
	DevelopmentBuildIncompatible
	// TaggedReleaseIncompatible means ZLS for this tagged Zig minor has not
	// been released.
	TaggedReleaseIncompatible
)

// Message renders the user-visible explanation for the code and the Zig
// version that provoked it.
func (c FailureCode) Message(zig releaseworker.Version) string {
	switch c {
	case Unsupported:
		return fmt.Sprintf("Zig %v is not supported by ZLS", zig)
	case DevelopmentBuildUnsupported:
		return fmt.Sprintf("No builds for the %d.%d release cycle are currently available", zig.Major, zig.Minor)
	case DevelopmentBuildIncompatible:
		return fmt.Sprintf("Zig %v has no compatible ZLS build (yet)", zig)
	case TaggedReleaseIncompatible:
		return fmt.Sprintf("ZLS %d.%d has not been released yet", zig.Major, zig.Minor)
	}
	panic("unreachable: bad failure code " + strconv.Itoa(int(c)))
}

// SelectFailure is the failure half of a selection result. It travels to
// clients as a 200 response; callers branch on Code, not on HTTP status.
type SelectFailure struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message"`
}

// SelectResult is the outcome of SelectVersion: exactly one of Record and
// Failure is set.
type SelectResult struct {
	Record  *releaseworker.ReleaseRecord
	Failure *SelectFailure
}

func failure(code FailureCode, zig releaseworker.Version) *SelectResult {
	selectionFailures.WithLabelValues(strconv.Itoa(int(code))).Inc()
	return &SelectResult{Failure: &SelectFailure{Code: code, Message: code.Message(zig)}}
}

// SelectVersion answers "I have Zig zig; which ZLS build should I use?".
//
// compat must be CompatFull or CompatOnlyRuntime; CompatNone is not a
// meaningful request. The returned error reports store failures only; a
// selection that finds nothing usable returns a SelectResult carrying a
// SelectFailure.
func (s *Service) SelectVersion(ctx context.Context, zig releaseworker.Version, compat releaseworker.Compatibility) (*SelectResult, error) {
	ctx, span := tracer.Start(ctx, "SelectVersion")
	defer span.End()
	span.SetAttributes(
		attribute.String("zig_version", zig.String()),
		attribute.String("compatibility", compat.String()),
	)
	if compat == releaseworker.CompatNone {
		return nil, fmt.Errorf("librelease: cannot select for compatibility %q", compat)
	}
	if zig.IsTagged() {
		return s.selectOnTaggedRelease(ctx, zig)
	}
	return s.selectOnDevelopmentBuild(ctx, zig, compat)
}

// SelectOnTaggedRelease picks the newest ZLS patch release within the Zig
// minor, falling back to typed failures when the minor has no release.
func (s *Service) selectOnTaggedRelease(ctx context.Context, zig releaseworker.Version) (*SelectResult, error) {
	recs, err := s.store.TaggedByMinor(ctx, zig.Major, zig.Minor)
	if err != nil {
		return nil, err
	}
	if len(recs) != 0 {
		return &SelectResult{Record: recs[0]}, nil
	}
	all, err := s.store.AllTaggedAsc(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) != 0 && zig.Less(all[0].MinimumRuntimeZigVersion) {
		return failure(Unsupported, zig), nil
	}
	return failure(TaggedReleaseIncompatible, zig), nil
}

// SelectOnDevelopmentBuild runs the three-phase development selection:
// gather candidates (with the tagged-release handoff when the cycle has no
// development builds yet), enforce the support floor, pick the newest
// admissible build, then reject it if the requested Zig nightly sits in a
// tested-failure region.
func (s *Service) selectOnDevelopmentBuild(ctx context.Context, zig releaseworker.Version, compat releaseworker.Compatibility) (*SelectResult, error) {
	dev, err := s.store.DevByMinor(ctx, zig.Major, zig.Minor)
	if err != nil {
		return nil, err
	}
	candidates := dev
	if len(candidates) == 0 {
		// Handoff: Zig has bumped to the next cycle but ZLS has not
		// shipped a development build for it yet. The latest tagged
		// release may still work.
		tagged, err := s.store.AllTaggedDesc(ctx)
		if err != nil {
			return nil, err
		}
		if len(tagged) != 0 {
			candidates = tagged[:1]
		}
	}
	if len(candidates) == 0 {
		return failure(DevelopmentBuildUnsupported, zig), nil
	}

	oldest := candidates[0]
	if zig.Less(oldest.EffectiveMinimum(compat)) {
		switch {
		case zig.Less(oldest.MinimumRuntimeZigVersion):
			// Predates everything ever supported, not merely this
			// cycle's build floor.
			return failure(Unsupported, zig), nil
		case len(dev) != 0:
			return failure(DevelopmentBuildUnsupported, zig), nil
		default:
			return failure(Unsupported, zig), nil
		}
	}

	// Newest build whose declared minimum admits zig. Minima are not
	// required to be monotonic over commit height; a later build may
	// regress its floor, so the scan never terminates early.
	selected := candidates[0]
	for _, cand := range candidates {
		if !zig.Less(cand.EffectiveMinimum(compat)) {
			selected = cand
		}
	}

	tested, err := selected.SortedTested(compat)
	if err != nil {
		return nil, err
	}
	if len(tested) == 0 {
		return nil, fmt.Errorf("librelease: release %v has no tested zig versions", selected.ZLSVersion)
	}
	if isVersionEnclosedInFailure(tested, zig) {
		return failure(DevelopmentBuildIncompatible, zig), nil
	}
	return &SelectResult{Record: selected}, nil
}

// IsVersionEnclosedInFailure reports whether v sits in a failure region of
// tested, which must be sorted ascending by version and non-empty.
//
// Outside the tested range, the nearest endpoint decides. Inside, an exact
// match decides by itself; otherwise v is enclosed only when both nearest
// tested neighbors failed.
func isVersionEnclosedInFailure(tested []releaseworker.TestedZig, v releaseworker.Version) bool {
	if v.Compare(tested[0].Version) <= 0 {
		return !tested[0].Success
	}
	if v.Compare(tested[len(tested)-1].Version) >= 0 {
		return !tested[len(tested)-1].Success
	}
	i := sort.Search(len(tested), func(i int) bool {
		return v.Compare(tested[i].Version) <= 0
	})
	if v.Compare(tested[i].Version) == 0 {
		return !tested[i].Success
	}
	// tested[i-1] < v < tested[i] by construction.
	return !tested[i-1].Success && !tested[i].Success
}

// ListTagged returns every tagged release, newest first.
func (s *Service) ListTagged(ctx context.Context) ([]*releaseworker.ReleaseRecord, error) {
	ctx, span := tracer.Start(ctx, "ListTagged")
	defer span.End()
	return s.store.AllTaggedDesc(ctx)
}
