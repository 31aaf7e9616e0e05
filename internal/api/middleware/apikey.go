package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
)

// APIKeyAuth is middleware that validates API key authentication for the
// case inspection API.
//
// When enabled (CASEDESK_API_KEYS is set), all requests to /api/v1/*
// must include a valid API key via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//
// The following paths are always public:
//   - /health
//   - /version
//   - /webhooks/* (authenticated by webhook signature, not API key)
//
// API keys are configured via the CASEDESK_API_KEYS environment variable
// as a comma-separated list: "key1,key2,key3"
type APIKeyAuth struct {
	mu      sync.RWMutex
	keys    map[string]bool
	enabled bool
}

// NewAPIKeyAuth creates an API key auth middleware from environment config.
func NewAPIKeyAuth() *APIKeyAuth {
	auth := &APIKeyAuth{
		keys: make(map[string]bool),
	}

	keysEnv := os.Getenv("CASEDESK_API_KEYS")
	if keysEnv == "" {
		// No API keys configured — auth disabled
		auth.enabled = false
		return auth
	}

	for _, key := range strings.Split(keysEnv, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			auth.keys[key] = true
			auth.enabled = true
		}
	}

	return auth
}

// Enabled returns whether API key auth is active.
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// AddKey adds a new API key at runtime.
func (a *APIKeyAuth) AddKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = true
	a.enabled = true
}

// RemoveKey removes an API key at runtime.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
	if len(a.keys) == 0 {
		a.enabled = false
	}
}

// Middleware returns an http.Handler middleware that enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}

		// Constant-time comparison
		if !a.validateKey(apiKey) {
			respondUnauthorized(w, "Invalid API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) validateKey(candidate string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

func isPublicPath(path string) bool {
	publicPaths := []string{
		"/health",
		"/version",
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}

	// Webhook intake carries its own HMAC signature.
	return strings.HasPrefix(path, "/webhooks")
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="casedesk"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
