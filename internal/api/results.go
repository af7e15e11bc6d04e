package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

var resultNameRe = regexp.MustCompile(`\A[\w.\-]+\z`)

// HandleCreateResult accepts an external check result and publishes it for
// processing, attributed to the API itself.
func (s *Server) HandleCreateResult(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(r, map[string]Rule{
		"name":   {Type: TypeString, Regex: resultNameRe},
		"output": {Type: TypeString},
		"status": {Type: TypeInteger, NilOK: true},
		"source": {Type: TypeString, NilOK: true, Regex: resultNameRe},
	})
	if !ok {
		badRequest(w)
		return
	}

	s.publishCheckResult(r.Context(), "sensu-api", data)
	issued(w)
}

type resultItem struct {
	Client string          `json:"client"`
	Check  json.RawMessage `json:"check"`
}

// HandleListResults returns the latest result of every client/check pair.
func (s *Server) HandleListResults(w http.ResponseWriter, r *http.Request) {
	names, err := s.Registry.SMembers(r.Context(), "clients")
	if err != nil {
		internalError(w, r, "failed to list clients", err)
		return
	}

	perClient := make([][]resultItem, len(names))
	g, ctx := errgroup.WithContext(r.Context())
	for i, name := range names {
		g.Go(func() error {
			items, err := s.clientResults(ctx, name)
			if err != nil {
				return err
			}
			perClient[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch results", err)
		return
	}

	results := make([]resultItem, 0)
	for _, items := range perClient {
		results = append(results, items...)
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleClientResults returns the latest results of one client, or 404 for
// a client with no results at all.
func (s *Server) HandleClientResults(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	checks, err := s.Registry.SMembers(r.Context(), "result:"+client)
	if err != nil {
		internalError(w, r, "failed to list client results", err)
		return
	}
	if len(checks) == 0 {
		notFound(w)
		return
	}

	results, err := s.clientResults(r.Context(), client)
	if err != nil {
		internalError(w, r, "failed to fetch client results", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) clientResults(ctx context.Context, client string) ([]resultItem, error) {
	checks, err := s.Registry.SMembers(ctx, "result:"+client)
	if err != nil {
		return nil, err
	}
	results := make([]resultItem, 0, len(checks))
	for _, check := range checks {
		data, err := s.Registry.Get(ctx, "result:"+client+":"+check)
		if err != nil {
			return nil, err
		}
		if data == "" {
			continue
		}
		results = append(results, resultItem{Client: client, Check: json.RawMessage(data)})
	}
	return results, nil
}

// HandleGetResult returns the stored result for one client/check pair.
func (s *Server) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	check := chi.URLParam(r, "check")

	data, err := s.Registry.Get(r.Context(), "result:"+client+":"+check)
	if err != nil {
		internalError(w, r, "failed to fetch result", err)
		return
	}
	if data == "" {
		notFound(w)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// HandleDeleteResult removes the stored result for one client/check pair.
func (s *Server) HandleDeleteResult(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	check := chi.URLParam(r, "check")
	ctx := r.Context()

	exists, err := s.Registry.Exists(ctx, "result:"+client+":"+check)
	if err != nil {
		internalError(w, r, "failed to check result", err)
		return
	}
	if !exists {
		notFound(w)
		return
	}

	if err := s.Registry.SRem(ctx, "result:"+client, check); err != nil {
		internalError(w, r, "failed to deindex result", err)
		return
	}
	if err := s.Registry.Del(ctx, "result:"+client+":"+check); err != nil {
		internalError(w, r, "failed to delete result", err)
		return
	}
	noContent(w)
}
