package librelease

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/internal/httputil"
	"github.com/zigtools/releaseworker/pkg/jsonerr"
)

var _ http.Handler = (*HTTP)(nil)

// HTTP is the wire surface of a [Service].
type HTTP struct {
	http.Handler
	s *Service
}

// NewHandler returns the HTTP facade for s.
func NewHandler(s *Service) *HTTP {
	h := &HTTP{s: s}
	m := http.NewServeMux()
	m.HandleFunc("/v1/zls/select-version", instrument("select-version", h.SelectVersion))
	m.HandleFunc("/v1/zls/index.json", instrument("index", h.Index))
	m.HandleFunc("/v1/zls/publish", instrument("publish", h.Publish))
	h.Handler = httputil.RequestID(httputil.AllowCORS(m))
	return h
}

// StatusRecorder remembers the status code written through it, for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		timer := prometheus.NewTimer(nil)
		next(rec, r)
		labels := prometheus.Labels{"endpoint": endpoint, "code": strconv.Itoa(rec.code)}
		httpCounter.With(labels).Inc()
		httpDuration.With(labels).Observe(timer.ObserveDuration().Seconds())
	}
}

// SelectVersion serves GET /v1/zls/select-version.
//
// Typed selection failures are part of the contract and go out as 200
// responses with a {code, message} body; clients branch on code, not on
// HTTP status.
func (h *HTTP) SelectVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodGet {
		jsonerr.Error(w, "endpoint only allows GET", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	rawZig, rawCompat := q.Get("zig_version"), q.Get("compatibility")
	if rawZig == "" || rawCompat == "" {
		jsonerr.Error(w, "query params zig_version and compatibility are required", http.StatusBadRequest)
		return
	}
	zig, err := releaseworker.ParseVersion(rawZig)
	if err != nil {
		jsonerr.Error(w, fmt.Sprintf("invalid zig_version: %v", err), http.StatusBadRequest)
		return
	}
	compat, err := releaseworker.ParseCompatibility(rawCompat)
	if err != nil || compat == releaseworker.CompatNone {
		jsonerr.Error(w, fmt.Sprintf("compatibility must be %q or %q", releaseworker.CompatOnlyRuntime, releaseworker.CompatFull), http.StatusBadRequest)
		return
	}
	if h.s.publicURL == "" {
		jsonerr.Error(w, "public URL base not configured", http.StatusInternalServerError)
		return
	}

	res, err := h.s.SelectVersion(ctx, zig, compat)
	if err != nil {
		slog.ErrorContext(ctx, "selection failed", append(httputil.LogAttrs(r), "reason", err)...)
		jsonerr.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if zig.IsTagged() {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=300")
	}
	w.Header().Set("Content-Type", "application/json")
	var body interface{}
	if res.Failure != nil {
		body = res.Failure
	} else {
		m, err := h.s.Manifest(res.Record)
		if err != nil {
			slog.ErrorContext(ctx, "manifest rendering failed", append(httputil.LogAttrs(r), "reason", err)...)
			jsonerr.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		body = m
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are out the door; nothing to do but note it.
		slog.WarnContext(ctx, "failed to encode response", append(httputil.LogAttrs(r), "reason", err)...)
	}
}

// Index serves GET /v1/zls/index.json by pointing at the published object.
func (h *HTTP) Index(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonerr.Error(w, "endpoint only allows GET and HEAD", http.StatusMethodNotAllowed)
		return
	}
	if h.s.publicURL == "" {
		jsonerr.Error(w, "public URL base not configured", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.s.publicURL+"/"+IndexKey, http.StatusMovedPermanently)
}

// Publish serves POST /v1/zls/publish.
func (h *HTTP) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		jsonerr.Error(w, "endpoint only allows POST", http.StatusMethodNotAllowed)
		return
	}
	if h.s.limiter != nil && !h.s.limiter.Allow() {
		jsonerr.Error(w, "too many publishes", http.StatusTooManyRequests)
		return
	}
	if h.s.apiToken == "" {
		jsonerr.Error(w, "api token not configured", http.StatusInternalServerError)
		return
	}
	switch err := httputil.CheckBasicAuth(r, h.s.apiToken); {
	case errors.Is(err, httputil.ErrBadAuthScheme):
		jsonerr.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, httputil.ErrBadCreds):
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		jsonerr.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req *PublishRequest
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		jsonerr.Error(w, "missing or malformed Content-Type", http.StatusBadRequest)
		return
	}
	switch ct {
	case "application/json":
		req = new(PublishRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			jsonerr.Error(w, fmt.Sprintf("invalid publish body: %v", err), http.StatusBadRequest)
			return
		}
	case "multipart/form-data":
		// Legacy publishers ship metadata fields plus the artifact bytes
		// in one form.
		if req, err = decodeFormPublish(r); err != nil {
			jsonerr.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		jsonerr.Error(w, fmt.Sprintf("unsupported Content-Type %q", ct), http.StatusUnsupportedMediaType)
		return
	}

	switch err := h.s.Publish(ctx, req); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, releaseworker.ErrUnsupportedMajor):
		jsonerr.Error(w, err.Error(), http.StatusTeapot)
	case isPublishError(err):
		jsonerr.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "publish failed", append(httputil.LogAttrs(r), "reason", err)...)
		jsonerr.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func isPublishError(err error) bool {
	var pe *releaseworker.PublishError
	return errors.As(err, &pe)
}

// formFieldMap maps the legacy form field names onto the request.
func formFieldMap(req *PublishRequest) map[string]*string {
	return map[string]*string{
		"zls-version":                 &req.ZLSVersion,
		"zig-version":                 &req.ZigVersion,
		"minimum-build-zig-version":   &req.MinimumBuildZigVersion,
		"minimum-runtime-zig-version": &req.MinimumRuntimeZigVersion,
		"compatibility":               &req.Compatibility,
	}
}

// The legacy form carries whole artifacts; a publish is a handful of
// build outputs, so a generous but bounded memory limit suffices.
const maxFormMemory = 256 << 20

func decodeFormPublish(r *http.Request) (*PublishRequest, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	req := &PublishRequest{Artifacts: make(map[string]ArtifactUpload)}
	for name, dst := range formFieldMap(req) {
		vs := r.MultipartForm.Value[name]
		if len(vs) != 1 {
			return nil, fmt.Errorf("form field %q must appear exactly once", name)
		}
		*dst = vs[0]
	}
	for name, headers := range r.MultipartForm.File {
		if len(headers) != 1 {
			return nil, fmt.Errorf("file %q must appear exactly once", name)
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("reading file %q: %w", name, err)
		}
		// Buffer the bytes: the blob write outlives this request, and the
		// server reclaims form temp files when the handler returns.
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading file %q: %w", name, err)
		}
		sum := sha256.Sum256(data)
		req.Artifacts[name] = ArtifactUpload{
			Shasum: hex.EncodeToString(sum[:]),
			Size:   uint64(len(data)),
			Body:   bytes.NewReader(data),
		}
	}
	return req, nil
}
