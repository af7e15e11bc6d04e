package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

type stashItem struct {
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content"`
	Expire  int64           `json:"expire"`
}

// HandleListStashes returns all stashes with their contents and remaining
// TTLs. Index entries whose stash has expired are dropped and deindexed.
func (s *Server) HandleListStashes(w http.ResponseWriter, r *http.Request) {
	paths, err := s.Registry.SMembers(r.Context(), "stashes")
	if err != nil {
		internalError(w, r, "failed to list stashes", err)
		return
	}

	found := make([]*stashItem, len(paths))
	g, ctx := errgroup.WithContext(r.Context())
	for i, path := range paths {
		g.Go(func() error {
			content, err := s.Registry.Get(ctx, "stash:"+path)
			if err != nil {
				return err
			}
			if content == "" {
				s.repair("stashes", path)
				return nil
			}
			expire, err := s.Registry.TTL(ctx, "stash:"+path)
			if err != nil {
				return err
			}
			found[i] = &stashItem{Path: path, Content: json.RawMessage(content), Expire: expire}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch stashes", err)
		return
	}

	stashes := make([]*stashItem, 0, len(found))
	for _, item := range found {
		if item != nil {
			stashes = append(stashes, item)
		}
	}
	stashes = paginate(w, r, stashes)
	writeJSON(w, http.StatusOK, stashes)
}

// HandleCreateStash stores a stash described by the request body, with an
// optional expiry in seconds.
func (s *Server) HandleCreateStash(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(r, map[string]Rule{
		"path":    {Type: TypeString},
		"content": {Type: TypeHash},
		"expire":  {Type: TypeInteger, NilOK: true},
	})
	if !ok {
		badRequest(w)
		return
	}

	path := data["path"].(string)
	content, err := json.Marshal(data["content"])
	if err != nil {
		internalError(w, r, "failed to encode stash content", err)
		return
	}

	ctx := r.Context()
	if err := s.Registry.Set(ctx, "stash:"+path, string(content)); err != nil {
		internalError(w, r, "failed to store stash", err)
		return
	}
	if err := s.Registry.SAdd(ctx, "stashes", path); err != nil {
		internalError(w, r, "failed to index stash", err)
		return
	}

	if expire, present := data["expire"]; present && expire != nil {
		seconds, err := expire.(json.Number).Int64()
		if err != nil {
			badRequest(w)
			return
		}
		if err := s.Registry.Expire(ctx, "stash:"+path, seconds); err != nil {
			internalError(w, r, "failed to expire stash", err)
			return
		}
	}

	created(w, map[string]string{"path": path})
}

// HandleSetStash stores the request body verbatim under the stash path taken
// from the request URL. Any JSON value is accepted, not just objects.
func (s *Server) HandleSetStash(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		badRequest(w)
		return
	}

	ctx := r.Context()
	if err := s.Registry.Set(ctx, "stash:"+path, string(body)); err != nil {
		internalError(w, r, "failed to store stash", err)
		return
	}
	if err := s.Registry.SAdd(ctx, "stashes", path); err != nil {
		internalError(w, r, "failed to index stash", err)
		return
	}
	created(w, map[string]string{"path": path})
}

// HandleGetStash returns the stash content stored under the request path.
func (s *Server) HandleGetStash(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	content, err := s.Registry.Get(r.Context(), "stash:"+path)
	if err != nil {
		internalError(w, r, "failed to fetch stash", err)
		return
	}
	if content == "" {
		notFound(w)
		return
	}
	writeRaw(w, http.StatusOK, content)
}

// HandleDeleteStash removes the stash stored under the request path.
func (s *Server) HandleDeleteStash(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	ctx := r.Context()

	exists, err := s.Registry.Exists(ctx, "stash:"+path)
	if err != nil {
		internalError(w, r, "failed to check stash", err)
		return
	}
	if !exists {
		notFound(w)
		return
	}

	if err := s.Registry.SRem(ctx, "stashes", path); err != nil {
		internalError(w, r, "failed to deindex stash", err)
		return
	}
	if err := s.Registry.Del(ctx, "stash:"+path); err != nil {
		internalError(w, r, "failed to delete stash", err)
		return
	}
	noContent(w)
}
