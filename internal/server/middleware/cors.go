package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig controls which browser origins may call the API.
type CORSConfig struct {
	// Origins lists the permitted origins. Empty or "*" permits every origin.
	Origins []string
	// Headers are the request headers a cross-origin caller may send. The
	// settlement API needs the API key and the caller identity header.
	Headers []string
	// MaxAge is how long a browser may cache a preflight answer.
	MaxAge time.Duration
}

var corsMethods = strings.Join([]string{
	http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions,
}, ", ")

// DefaultCORSHeaders are allowed when CORSConfig.Headers is empty.
var DefaultCORSHeaders = []string{"Content-Type", "Authorization", "X-API-Key", "X-Polybet-Identity"}

// CORS returns middleware that sets the CORS allow headers for permitted
// origins and answers preflight requests itself with 204 No Content, so
// OPTIONS never reaches the settlement handlers.
//
// The request origin is echoed back rather than "*" so the response stays
// valid when the browser sends credentials. Every response carries
// "Vary: Origin" because the allow headers depend on it.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := len(cfg.Origins) == 0
	permitted := make(map[string]struct{}, len(cfg.Origins))
	for _, o := range cfg.Origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			anyOrigin = true
		}
		permitted[o] = struct{}{}
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultCORSHeaders
	}
	allowHeaders := strings.Join(headers, ", ")
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	maxAgeSecs := strconv.Itoa(int(maxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" {
				_, ok := permitted[strings.ToLower(origin)]
				if anyOrigin || ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", allowHeaders)
					h.Set("Access-Control-Max-Age", maxAgeSecs)
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
