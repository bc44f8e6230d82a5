// Package guard screens incoming API requests before they reach route
// handlers: declared-size and media-type limits, nesting-depth limits on
// JSON bodies, and in-place neutralization of script-injection payloads in
// string fields. Rejections are terminal and answered with a JSON payload;
// passing requests are forwarded with a sanitized body.
//
// Depth checks and sanitization apply to JSON bodies only. The other allowed
// media types (form-urlencoded, multipart) pass through unparsed and
// unsanitized; handlers consuming those own their own field validation.
package guard

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/eden-task/usersvc/internal/log"
)

// Process-wide request limits.
const (
	// MaxBodyBytes caps the declared request size (Content-Length).
	MaxBodyBytes = 1 << 20 // 1,048,576

	// MaxDepth caps nesting of JSON bodies, counted as container-traversal
	// steps from the root to a leaf.
	MaxDepth = 10

	// MaxStringLen caps individual string fields after sanitization.
	MaxStringLen = 10000
)

// AllowedContentTypes are the media-type substrings accepted on requests
// that declare a Content-Type. A missing/empty header is not rejected.
var AllowedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// Options configures the middleware. All fields are optional.
type Options struct {
	Logger log.Logger

	// RateLimit is advertised via X-RateLimit-Limit on passing requests.
	// Zero means the default of 100.
	RateLimit int

	// OnRejected is called with a reason label ("too_large",
	// "unsupported_media_type", "too_deep") for every rejected request.
	OnRejected func(reason string)

	// OnSanitized is called with the number of string fields that were
	// modified, when at least one was.
	OnSanitized func(fields int)
}

type tooLargeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	MaxSize string `json:"maxSize"`
}

type unsupportedMediaTypeResponse struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error"`
	AllowedTypes []string `json:"allowedTypes"`
}

type tooDeepResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	MaxDepth int    `json:"maxDepth"`
}

// Middleware returns the request guard. Checks run in order and
// short-circuit on the first failure; the pass path re-injects the
// sanitized body and attaches the informational headers.
func Middleware(opts Options) func(http.Handler) http.Handler {
	limit := opts.RateLimit
	if limit <= 0 {
		limit = 100
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if size := declaredSize(r); size > MaxBodyBytes {
				lg.Warn(ctx, "request rejected: entity too large",
					"declared_size", size, "max_size", MaxBodyBytes)
				reject(w, opts.OnRejected, "too_large", http.StatusRequestEntityTooLarge, tooLargeResponse{
					Error:   "Request entity too large",
					MaxSize: strconv.Itoa(MaxBodyBytes) + " bytes",
				})
				return
			}

			// An absent Content-Type is not rejected; only a declared but
			// disallowed one is.
			ct := r.Header.Get("Content-Type")
			if ct != "" && !ContentTypeAllowed(ct) {
				lg.Warn(ctx, "request rejected: unsupported media type", "content_type", ct)
				reject(w, opts.OnRejected, "unsupported_media_type", http.StatusUnsupportedMediaType, unsupportedMediaTypeResponse{
					Error:        "Unsupported media type",
					AllowedTypes: AllowedContentTypes,
				})
				return
			}

			if isJSON(ct) && r.Body != nil && r.Body != http.NoBody {
				ok := guardBody(w, r, lg, opts)
				if !ok {
					return
				}
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	}
}

// guardBody decodes a JSON body, enforces the depth limit, sanitizes string
// leaves, and swaps the sanitized encoding back into the request. Returns
// false when the request was rejected.
//
// Malformed JSON is forwarded untouched: the guard's contract is over a
// parsed body, and the route handler owns decode errors.
func guardBody(w http.ResponseWriter, r *http.Request, lg log.Logger, opts Options) bool {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	r.Body.Close()
	if err != nil || len(raw) == 0 {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		return true
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		return true
	}

	switch body.(type) {
	case map[string]any, []any:
	default:
		// Scalar JSON body: nothing to walk.
		r.Body = io.NopCloser(bytes.NewReader(raw))
		return true
	}

	// Depth is measured on the structure as received, before sanitization.
	if d := Depth(body); d > MaxDepth {
		lg.Warn(ctx, "request rejected: excessive nesting", "depth", d, "max_depth", MaxDepth)
		reject(w, opts.OnRejected, "too_deep", http.StatusBadRequest, tooDeepResponse{
			Error:    "Request object too deeply nested",
			MaxDepth: MaxDepth,
		})
		return false
	}

	if n := Sanitize(body); n > 0 {
		lg.Debug(ctx, "sanitized request body", "fields", n)
		if opts.OnSanitized != nil {
			opts.OnSanitized(n)
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		// Round-tripping decoded JSON cannot realistically fail; keep the
		// original bytes if it somehow does.
		r.Body = io.NopCloser(bytes.NewReader(raw))
		return true
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	r.ContentLength = int64(len(buf))
	return true
}

// ContentTypeAllowed reports whether the declared media type contains one
// of the allowed type substrings (parameters like charset are tolerated).
func ContentTypeAllowed(ct string) bool {
	lower := strings.ToLower(ct)
	for _, allowed := range AllowedContentTypes {
		if strings.Contains(lower, allowed) {
			return true
		}
	}
	return false
}

func isJSON(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "application/json")
}

// declaredSize returns the request's declared byte size. A missing or
// unparseable Content-Length counts as 0.
func declaredSize(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	n, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("Content-Length")), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func reject(w http.ResponseWriter, onRejected func(string), reason string, status int, payload any) {
	if onRejected != nil {
		onRejected(reason)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
