package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// HandleListEvents returns the current events of every client.
func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	names, err := s.Registry.SMembers(r.Context(), "clients")
	if err != nil {
		internalError(w, r, "failed to list clients", err)
		return
	}

	perClient := make([][]json.RawMessage, len(names))
	g, ctx := errgroup.WithContext(r.Context())
	for i, name := range names {
		g.Go(func() error {
			events, err := s.Registry.HGetAll(ctx, "events:"+name)
			if err != nil {
				return err
			}
			for _, eventJSON := range events {
				perClient[i] = append(perClient[i], json.RawMessage(eventJSON))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch events", err)
		return
	}

	events := make([]json.RawMessage, 0)
	for _, clientEvents := range perClient {
		events = append(events, clientEvents...)
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleClientEvents returns the current events of one client.
func (s *Server) HandleClientEvents(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	stored, err := s.Registry.HGetAll(r.Context(), "events:"+client)
	if err != nil {
		internalError(w, r, "failed to fetch client events", err)
		return
	}

	events := make([]json.RawMessage, 0, len(stored))
	for _, eventJSON := range stored {
		events = append(events, json.RawMessage(eventJSON))
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleGetEvent returns the current event for one client/check pair.
func (s *Server) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	check := chi.URLParam(r, "check")

	events, err := s.Registry.HGetAll(r.Context(), "events:"+client)
	if err != nil {
		internalError(w, r, "failed to fetch client events", err)
		return
	}
	eventJSON, ok := events[check]
	if !ok {
		notFound(w)
		return
	}
	writeRaw(w, http.StatusOK, eventJSON)
}

// HandleDeleteEvent resolves the event named by the request path.
func (s *Server) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	check := chi.URLParam(r, "check")
	s.resolveIfPresent(w, r, client, check)
}

// HandleResolveEvent resolves the event named by the request body.
func (s *Server) HandleResolveEvent(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(r, map[string]Rule{
		"client": {Type: TypeString},
		"check":  {Type: TypeString},
	})
	if !ok {
		badRequest(w)
		return
	}
	s.resolveIfPresent(w, r, data["client"].(string), data["check"].(string))
}

func (s *Server) resolveIfPresent(w http.ResponseWriter, r *http.Request, client, check string) {
	events, err := s.Registry.HGetAll(r.Context(), "events:"+client)
	if err != nil {
		internalError(w, r, "failed to fetch client events", err)
		return
	}
	eventJSON, ok := events[check]
	if !ok {
		notFound(w)
		return
	}
	if err := s.resolveEvent(r.Context(), eventJSON); err != nil {
		internalError(w, r, "failed to resolve event", err)
		return
	}
	issued(w)
}
