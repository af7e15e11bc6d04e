package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/bngnha/sensu/internal/settings"
)

// HandleCreateClient registers a client from the request body. Clients
// created here default to keepalives disabled so the absence of a live agent
// does not raise alerts.
func (s *Server) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(r, nil)
	if !ok {
		badRequest(w)
		return
	}

	if _, present := data["keepalives"]; !present {
		data["keepalives"] = false
	}
	data["version"] = settings.Version
	data["timestamp"] = time.Now().Unix()

	if !s.Validator.Valid(data) {
		badRequest(w)
		return
	}

	name := data["name"].(string)
	payload, err := json.Marshal(data)
	if err != nil {
		internalError(w, r, "failed to encode client", err)
		return
	}

	ctx := r.Context()
	if err := s.Registry.Set(ctx, "client:"+name, string(payload)); err != nil {
		internalError(w, r, "failed to store client", err)
		return
	}
	if err := s.Registry.SAdd(ctx, "clients", name); err != nil {
		internalError(w, r, "failed to index client", err)
		return
	}

	created(w, map[string]string{"name": name})
}

// HandleListClients returns all registered clients. Names in the index whose
// data is gone are dropped from the response and removed from the index.
func (s *Server) HandleListClients(w http.ResponseWriter, r *http.Request) {
	names, err := s.Registry.SMembers(r.Context(), "clients")
	if err != nil {
		internalError(w, r, "failed to list clients", err)
		return
	}
	names = paginate(w, r, names)

	found := make([]json.RawMessage, len(names))
	g, ctx := errgroup.WithContext(r.Context())
	for i, name := range names {
		g.Go(func() error {
			data, err := s.Registry.Get(ctx, "client:"+name)
			if err != nil {
				return err
			}
			if data == "" {
				LoggerFromContext(ctx).Error("client data missing from registry", "client", name)
				s.repair("clients", name)
				return nil
			}
			found[i] = json.RawMessage(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch clients", err)
		return
	}

	clients := make([]json.RawMessage, 0, len(found))
	for _, data := range found {
		if data != nil {
			clients = append(clients, data)
		}
	}
	writeJSON(w, http.StatusOK, clients)
}

// HandleGetClient returns one client's registration data.
func (s *Server) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := s.Registry.Get(r.Context(), "client:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch client", err)
		return
	}
	if data == "" {
		notFound(w)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

type historyItem struct {
	Check         string          `json:"check"`
	History       []int           `json:"history"`
	LastExecution int64           `json:"last_execution"`
	LastStatus    int             `json:"last_status"`
	LastResult    json.RawMessage `json:"last_result"`
}

// HandleClientHistory returns the recent status history of every check the
// client has results for. Checks without a stored result or history are
// omitted.
func (s *Server) HandleClientHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	checks, err := s.Registry.SMembers(r.Context(), "result:"+name)
	if err != nil {
		internalError(w, r, "failed to list client results", err)
		return
	}

	found := make([]*historyItem, len(checks))
	g, ctx := errgroup.WithContext(r.Context())
	for i, check := range checks {
		g.Go(func() error {
			statuses, err := s.Registry.LRange(ctx, "history:"+name+":"+check, -21, -1)
			if err != nil {
				return err
			}
			data, err := s.Registry.Get(ctx, "result:"+name+":"+check)
			if err != nil {
				return err
			}
			if data == "" || len(statuses) == 0 {
				return nil
			}

			var result map[string]any
			if err := json.Unmarshal([]byte(data), &result); err != nil {
				return err
			}
			executed, ok := result["executed"].(float64)
			if !ok {
				return nil
			}

			history := make([]int, len(statuses))
			for j, status := range statuses {
				n, err := strconv.Atoi(status)
				if err != nil {
					n = 0
				}
				history[j] = n
			}

			found[i] = &historyItem{
				Check:         check,
				History:       history,
				LastExecution: int64(executed),
				LastStatus:    history[len(history)-1],
				LastResult:    json.RawMessage(data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch client history", err)
		return
	}

	items := make([]*historyItem, 0, len(found))
	for _, item := range found {
		if item != nil {
			items = append(items, item)
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleDeleteClient resolves the client's current events, then purges its
// registry data in the background once the events have cleared.
func (s *Server) HandleDeleteClient(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	data, err := s.Registry.Get(ctx, "client:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch client", err)
		return
	}
	if data == "" {
		notFound(w)
		return
	}

	events, err := s.Registry.HGetAll(ctx, "events:"+name)
	if err != nil {
		internalError(w, r, "failed to list client events", err)
		return
	}
	for _, eventJSON := range events {
		if err := s.resolveEvent(ctx, eventJSON); err != nil {
			internalError(w, r, "failed to resolve client event", err)
			return
		}
	}

	go s.purgeClient(name)
	issued(w)
}

// purgeClient waits for the client's resolved events to clear, then removes
// every registry key belonging to it. Runs detached from the request.
func (s *Server) purgeClient(name string) {
	ctx := context.Background()
	logger := slog.With("client", name)

	for attempt := 0; ; attempt++ {
		events, err := s.Registry.HGetAll(ctx, "events:"+name)
		if err != nil {
			logger.Error("failed to poll client events before purge", "error", err)
			return
		}
		if len(events) == 0 || attempt == 5 {
			break
		}
		time.Sleep(time.Second)
	}

	logger.Info("deleting client")
	if err := s.Registry.SRem(ctx, "clients", name); err != nil {
		logger.Error("failed to remove client from index", "error", err)
	}
	if err := s.Registry.Del(ctx, "client:"+name, "client:"+name+":signature", "events:"+name); err != nil {
		logger.Error("failed to delete client keys", "error", err)
	}

	checks, err := s.Registry.SMembers(ctx, "result:"+name)
	if err != nil {
		logger.Error("failed to list client results for purge", "error", err)
		return
	}
	for _, check := range checks {
		if err := s.Registry.Del(ctx, "result:"+name+":"+check, "history:"+name+":"+check); err != nil {
			logger.Error("failed to delete client result", "check", check, "error", err)
		}
	}
	if err := s.Registry.Del(ctx, "result:"+name); err != nil {
		logger.Error("failed to delete client result index", "error", err)
	}
}
