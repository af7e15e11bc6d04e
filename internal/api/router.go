// Package api implements the HTTP control plane of the monitoring platform:
// registered clients, check definitions, current events, check results,
// named aggregates, and key/value stashes, all backed by the redis registry
// and the message transport.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bngnha/sensu/internal/settings"
	"github.com/bngnha/sensu/internal/transport"
	"github.com/bngnha/sensu/internal/validator"
)

// Registry is the key/value backend holding fleet state. Get returns "" for
// missing keys; TTL returns -1 for keys without an expiry and -2 for missing
// keys, matching the redis contract.
type Registry interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, seconds int64) error
	TTL(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, set, member string) error
	SRem(ctx context.Context, set, member string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Connected() bool
	Close() error
}

// Transport carries check requests and check results to the rest of the
// monitoring pipeline and exposes queue statistics for /info and /health.
type Transport interface {
	Publish(ctx context.Context, exchangeType, name string, payload []byte) error
	Stats(ctx context.Context, queue string) (transport.QueueStats, error)
	Connected() bool
	Close() error
}

// ClientValidator screens client registration payloads before they are
// stored. The validator package implements this interface.
type ClientValidator interface {
	Valid(client map[string]any) bool
}

// Server holds dependencies for all API handlers.
type Server struct {
	Registry  Registry
	Transport Transport
	Settings  *settings.Settings
	Validator ClientValidator
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.Settings == nil {
		srv.Settings = settings.Default()
	}
	if srv.Validator == nil {
		srv.Validator = validator.NewClient()
	}

	r := chi.NewRouter()

	r.Use(middleware.StripSlashes)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(limitBody)
	r.Use(RequestLogger)
	r.Use(srv.responseHeaders)
	r.Use(srv.requireConnections)
	r.Use(preflight)
	r.Use(srv.basicAuth)
	r.Use(middleware.Recoverer)

	// Unknown routes and unsupported methods both answer 404 with an empty
	// body.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		notFound(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		notFound(w)
	})

	r.Get("/info", srv.HandleInfo)
	r.Get("/health", srv.HandleHealth)

	r.Post("/clients", srv.HandleCreateClient)
	r.Get("/clients", srv.HandleListClients)
	r.Get(`/clients/{name:[\w.\-]+}`, srv.HandleGetClient)
	r.Get(`/clients/{name:[\w.\-]+}/history`, srv.HandleClientHistory)
	r.Delete(`/clients/{name:[\w.\-]+}`, srv.HandleDeleteClient)

	r.Get("/checks", srv.HandleListChecks)
	r.Get(`/checks/{name:[\w.\-]+}`, srv.HandleGetCheck)
	r.Post("/request", srv.HandleRequestCheck)

	r.Get("/events", srv.HandleListEvents)
	r.Get(`/events/{client:[\w.\-]+}`, srv.HandleClientEvents)
	r.Get(`/events/{client:[\w.\-]+}/{check:[\w.\-]+}`, srv.HandleGetEvent)
	r.Delete(`/events/{client:[\w.\-]+}/{check:[\w.\-]+}`, srv.HandleDeleteEvent)
	r.Post("/resolve", srv.HandleResolveEvent)

	r.Post("/results", srv.HandleCreateResult)
	r.Get("/results", srv.HandleListResults)
	r.Get(`/results/{client:[\w.\-]+}`, srv.HandleClientResults)
	r.Get(`/results/{client:[\w.\-]+}/{check:[\w.\-]+}`, srv.HandleGetResult)
	r.Delete(`/results/{client:[\w.\-]+}/{check:[\w.\-]+}`, srv.HandleDeleteResult)

	r.Get("/aggregates", srv.HandleListAggregates)
	r.Get(`/aggregates/{name:[\w.\-]+}`, srv.HandleGetAggregate)
	r.Delete(`/aggregates/{name:[\w.\-]+}`, srv.HandleDeleteAggregate)
	r.Get(`/aggregates/{name:[\w.\-]+}/clients`, srv.HandleAggregateClients)
	r.Get(`/aggregates/{name:[\w.\-]+}/checks`, srv.HandleAggregateChecks)
	r.Get(`/aggregates/{name:[\w.\-]+}/results/{severity:[\w.\-]+}`, srv.HandleAggregateResults)

	// Stash routes answer under both the singular and plural prefixes, and
	// the path tail is free-form (it may contain slashes).
	r.Get("/stashes", srv.HandleListStashes)
	r.Post("/stashes", srv.HandleCreateStash)
	for _, prefix := range []string{"/stash", "/stashes"} {
		r.Post(prefix+"/*", srv.HandleSetStash)
		r.Get(prefix+"/*", srv.HandleGetStash)
		r.Delete(prefix+"/*", srv.HandleDeleteStash)
	}

	return r
}

// repair removes a dangling member from an index set. The removal runs
// detached from the request so a slow registry cannot delay the response;
// failures are logged and the next enumeration retries.
func (s *Server) repair(set, member string) {
	go func() {
		if err := s.Registry.SRem(context.Background(), set, member); err != nil {
			slog.Warn("failed to remove dangling set member", "set", set, "member", member, "error", err)
		}
	}()
}
