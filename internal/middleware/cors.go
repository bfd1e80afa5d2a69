// Package middleware provides HTTP middleware for the relay's HTTP surface.
package middleware

import "net/http"

// OriginChecker reports whether a dynamic-tier request's origin should be
// echoed back, e.g. "a live session exists for this domain".
type OriginChecker func(origin string) bool

// corsTier classifies a request path/method into one of the three CORS
// policies the relay exposes.
type corsTier int

const (
	tierPermissive corsTier = iota // registration, health: any origin
	tierNone                       // admin surface: no CORS headers at all
	tierDynamic                    // session-scoped paths: echo only if a live session exists
)

// Classifier maps a request to its CORS tier.
type Classifier func(r *http.Request) corsTier

// DefaultClassifier implements the relay's three-tier policy: POST /live
// and GET /health are permissive; /keys and anything under /keys/ carries
// no CORS headers; everything else (including /usage) is dynamic.
func DefaultClassifier(r *http.Request) corsTier {
	switch {
	case r.URL.Path == "/health":
		return tierPermissive
	case r.URL.Path == "/live" && r.Method == http.MethodPost:
		return tierPermissive
	case r.URL.Path == "/keys" || hasPrefix(r.URL.Path, "/keys/"):
		return tierNone
	default:
		return tierDynamic
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// CORS returns middleware implementing the relay's tiered CORS policy.
// checkOrigin decides, for dynamic-tier requests, whether the requesting
// origin currently has a live session and so may be echoed back.
func CORS(classify Classifier, checkOrigin OriginChecker) func(http.Handler) http.Handler {
	if classify == nil {
		classify = DefaultClassifier
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch classify(r) {
			case tierNone:
				// no CORS headers at all
			case tierPermissive:
				if origin != "" {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				} else {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			case tierDynamic:
				if origin != "" && checkOrigin != nil && checkOrigin(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
