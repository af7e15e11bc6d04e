package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// severityName maps a check status to its severity. Anything outside the
// standard exit statuses is unknown.
func severityName(status int) string {
	switch status {
	case 0:
		return "ok"
	case 1:
		return "warning"
	case 2:
		return "critical"
	default:
		return "unknown"
	}
}

func validSeverity(name string) bool {
	switch name {
	case "ok", "warning", "critical", "unknown":
		return true
	}
	return false
}

// splitMember splits an aggregate member "client:check" into its parts.
// Client names cannot contain colons, so the first colon is the divider.
func splitMember(member string) (client, check string) {
	client, check, found := strings.Cut(member, ":")
	if !found {
		return member, ""
	}
	return client, check
}

func statusOf(result map[string]any) int {
	status, ok := result["status"].(float64)
	if !ok {
		return -1
	}
	return int(status)
}

func executedOf(result map[string]any) int64 {
	executed, ok := result["executed"].(float64)
	if !ok {
		return 0
	}
	return int64(executed)
}

type aggregateName struct {
	Name string `json:"name"`
}

// HandleListAggregates returns the names of all named aggregates.
func (s *Server) HandleListAggregates(w http.ResponseWriter, r *http.Request) {
	names, err := s.Registry.SMembers(r.Context(), "aggregates")
	if err != nil {
		internalError(w, r, "failed to list aggregates", err)
		return
	}

	aggregates := make([]aggregateName, 0, len(names))
	for _, name := range names {
		aggregates = append(aggregates, aggregateName{Name: name})
	}
	writeJSON(w, http.StatusOK, aggregates)
}

type aggregateResultCount struct {
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
	Stale    int `json:"stale"`
}

type aggregateSummary struct {
	Clients int                  `json:"clients"`
	Checks  int                  `json:"checks"`
	Results aggregateResultCount `json:"results"`
}

// HandleGetAggregate summarizes an aggregate: distinct clients and checks,
// and result counts by severity. With max_age, results executed earlier than
// max_age seconds ago count as stale and are excluded from the severity
// counts.
func (s *Server) HandleGetAggregate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	members, err := s.Registry.SMembers(ctx, "aggregates:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch aggregate", err)
		return
	}
	if len(members) == 0 {
		notFound(w)
		return
	}

	clients := make(map[string]struct{})
	checks := make(map[string]struct{})
	for _, member := range members {
		client, check := splitMember(member)
		clients[client] = struct{}{}
		checks[check] = struct{}{}
	}

	found := make([]map[string]any, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range members {
		g.Go(func() error {
			client, check := splitMember(member)
			data, err := s.Registry.Get(gctx, "result:"+client+":"+check)
			if err != nil {
				return err
			}
			if data == "" {
				s.repair("aggregates:"+name, member)
				return nil
			}
			var result map[string]any
			if err := json.Unmarshal([]byte(data), &result); err != nil {
				return err
			}
			found[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch aggregate results", err)
		return
	}

	maxAge, hasMaxAge := integerParameter(r.URL.Query().Get("max_age"))
	oldest := time.Now().Unix() - int64(maxAge)

	summary := aggregateSummary{Clients: len(clients), Checks: len(checks)}
	for _, result := range found {
		if result == nil {
			continue
		}
		if hasMaxAge && executedOf(result) < oldest {
			summary.Results.Stale++
			continue
		}
		summary.Results.Total++
		switch severityName(statusOf(result)) {
		case "ok":
			summary.Results.OK++
		case "warning":
			summary.Results.Warning++
		case "critical":
			summary.Results.Critical++
		default:
			summary.Results.Unknown++
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleDeleteAggregate removes an aggregate and its membership set.
func (s *Server) HandleDeleteAggregate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	names, err := s.Registry.SMembers(ctx, "aggregates")
	if err != nil {
		internalError(w, r, "failed to list aggregates", err)
		return
	}
	known := false
	for _, candidate := range names {
		if candidate == name {
			known = true
			break
		}
	}
	if !known {
		notFound(w)
		return
	}

	if err := s.Registry.SRem(ctx, "aggregates", name); err != nil {
		internalError(w, r, "failed to deindex aggregate", err)
		return
	}
	if err := s.Registry.Del(ctx, "aggregates:"+name); err != nil {
		internalError(w, r, "failed to delete aggregate", err)
		return
	}
	noContent(w)
}

type clientChecks struct {
	Name   string   `json:"name"`
	Checks []string `json:"checks"`
}

// HandleAggregateClients lists an aggregate's members grouped by client.
func (s *Server) HandleAggregateClients(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	members, err := s.Registry.SMembers(r.Context(), "aggregates:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch aggregate", err)
		return
	}
	if len(members) == 0 {
		notFound(w)
		return
	}

	byClient := make(map[string][]string)
	for _, member := range members {
		client, check := splitMember(member)
		byClient[client] = append(byClient[client], check)
	}

	grouped := make([]clientChecks, 0, len(byClient))
	for _, client := range sortedKeys(byClient) {
		checks := byClient[client]
		sort.Strings(checks)
		grouped = append(grouped, clientChecks{Name: client, Checks: checks})
	}
	writeJSON(w, http.StatusOK, grouped)
}

type checkClients struct {
	Name    string   `json:"name"`
	Clients []string `json:"clients"`
}

// HandleAggregateChecks lists an aggregate's members grouped by check.
func (s *Server) HandleAggregateChecks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	members, err := s.Registry.SMembers(r.Context(), "aggregates:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch aggregate", err)
		return
	}
	if len(members) == 0 {
		notFound(w)
		return
	}

	byCheck := make(map[string][]string)
	for _, member := range members {
		client, check := splitMember(member)
		byCheck[check] = append(byCheck[check], client)
	}

	grouped := make([]checkClients, 0, len(byCheck))
	for _, check := range sortedKeys(byCheck) {
		clients := byCheck[check]
		sort.Strings(clients)
		grouped = append(grouped, checkClients{Name: check, Clients: clients})
	}
	writeJSON(w, http.StatusOK, grouped)
}

type outputSummary struct {
	Output  string   `json:"output"`
	Total   int      `json:"total"`
	Clients []string `json:"clients"`
}

type severitySummary struct {
	Check   string          `json:"check"`
	Summary []outputSummary `json:"summary"`
}

// HandleAggregateResults lists an aggregate's results of one severity,
// grouped by check and output. With max_age, only results executed within
// the last max_age seconds are included.
func (s *Server) HandleAggregateResults(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	severity := chi.URLParam(r, "severity")
	if !validSeverity(severity) {
		badRequest(w)
		return
	}
	ctx := r.Context()

	members, err := s.Registry.SMembers(ctx, "aggregates:"+name)
	if err != nil {
		internalError(w, r, "failed to fetch aggregate", err)
		return
	}
	if len(members) == 0 {
		notFound(w)
		return
	}

	maxAge, hasMaxAge := integerParameter(r.URL.Query().Get("max_age"))
	oldest := time.Now().Unix() - int64(maxAge)

	type matched struct {
		client string
		check  string
		output string
	}
	found := make([]*matched, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range members {
		g.Go(func() error {
			client, check := splitMember(member)
			data, err := s.Registry.Get(gctx, "result:"+client+":"+check)
			if err != nil {
				return err
			}
			if data == "" {
				return nil
			}
			var result map[string]any
			if err := json.Unmarshal([]byte(data), &result); err != nil {
				return err
			}
			if severityName(statusOf(result)) != severity {
				return nil
			}
			if hasMaxAge && executedOf(result) < oldest {
				return nil
			}
			output, ok := result["output"].(string)
			if !ok {
				output = fmt.Sprint(result["output"])
			}
			found[i] = &matched{client: client, check: check, output: output}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		internalError(w, r, "failed to fetch aggregate results", err)
		return
	}

	byCheck := make(map[string]map[string][]string)
	for _, m := range found {
		if m == nil {
			continue
		}
		if byCheck[m.check] == nil {
			byCheck[m.check] = make(map[string][]string)
		}
		byCheck[m.check][m.output] = append(byCheck[m.check][m.output], m.client)
	}

	summaries := make([]severitySummary, 0, len(byCheck))
	for _, check := range sortedKeys(byCheck) {
		byOutput := byCheck[check]
		outputs := make([]outputSummary, 0, len(byOutput))
		for _, output := range sortedKeys(byOutput) {
			clients := byOutput[output]
			sort.Strings(clients)
			outputs = append(outputs, outputSummary{Output: output, Total: len(clients), Clients: clients})
		}
		summaries = append(summaries, severitySummary{Check: check, Summary: outputs})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
