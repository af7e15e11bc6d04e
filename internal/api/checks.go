package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandleListChecks returns the locally configured check definitions, keyed
// by check name.
func (s *Server) HandleListChecks(w http.ResponseWriter, _ *http.Request) {
	checks := s.Settings.Checks
	if checks == nil {
		checks = map[string]map[string]any{}
	}
	writeJSON(w, http.StatusOK, checks)
}

// HandleGetCheck returns one check definition with its name included.
func (s *Server) HandleGetCheck(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	definition, ok := s.Settings.Checks[name]
	if !ok {
		notFound(w)
		return
	}

	check := make(map[string]any, len(definition)+1)
	for key, value := range definition {
		check[key] = value
	}
	check["name"] = name
	writeJSON(w, http.StatusOK, check)
}

// HandleRequestCheck publishes an execution request for a configured check,
// optionally overriding its subscribers.
func (s *Server) HandleRequestCheck(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(r, map[string]Rule{
		"check":       {Type: TypeString},
		"subscribers": {Type: TypeArray, NilOK: true},
	})
	if !ok {
		badRequest(w)
		return
	}

	name := data["check"].(string)
	definition, found := s.Settings.Checks[name]
	if !found {
		notFound(w)
		return
	}

	check := make(map[string]any, len(definition)+1)
	for key, value := range definition {
		check[key] = value
	}
	check["name"] = name
	if check["subscribers"] == nil {
		check["subscribers"] = []any{}
	}
	if subscribers, present := data["subscribers"]; present && subscribers != nil {
		check["subscribers"] = subscribers
	}

	s.publishCheckRequest(r.Context(), check)
	issued(w)
}
