package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// maxBodySize caps JSON request bodies at 1MB.
const maxBodySize = 1 << 20

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// defaultCORS is applied when the settings carry no cors section. A
// configured section replaces these pairs wholesale.
var defaultCORS = map[string]string{
	"Origin":      "*",
	"Methods":     "GET, POST, PUT, DELETE, OPTIONS",
	"Credentials": "true",
	"Headers":     "Origin, X-Requested-With, Content-Type, Accept, Authorization",
}

// responseHeaders sets the JSON content type and the CORS header set on
// every response, including errors.
func (s *Server) responseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		cors := s.Settings.CORS
		if len(cors) == 0 {
			cors = defaultCORS
		}
		for key, value := range cors {
			w.Header().Set("Access-Control-Allow-"+key, value)
		}

		next.ServeHTTP(w, r)
	})
}

var connectionError = map[string]string{
	"error": "redis and transport connections not initialized",
}

// requireConnections rejects requests while either backend connection is
// down. /info and /health stay reachable so operators can see the outage.
// StripSlashes rewrites only the routing path, so the trailing slash is
// trimmed here too to keep the spared paths aligned with routing.
func (s *Server) requireConnections(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		if path != "/info" && path != "/health" {
			if !s.Registry.Connected() || !s.Transport.Connected() {
				writeJSON(w, http.StatusInternalServerError, connectionError)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// preflight short-circuits CORS preflight requests. It sits after the
// connectivity gate and before auth, so OPTIONS needs healthy backends but
// no credentials.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuth enforces HTTP basic auth when the settings define both an API
// user and password. Comparison is constant-time.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.Settings.API.User
		password := s.Settings.API.Password
		if user != "" && password != "" {
			got, gotPass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(got), []byte(user)) != 1 ||
				subtle.ConstantTimeCompare([]byte(gotPass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted Area"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
