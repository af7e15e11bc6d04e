package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAggregate(t *testing.T, ts *testServer, name string, members ...string) {
	t.Helper()
	_, err := ts.redis.SetAdd("aggregates", name)
	require.NoError(t, err)
	_, err = ts.redis.SetAdd("aggregates:"+name, members...)
	require.NoError(t, err)
}

type aggregateDoc struct {
	Clients int `json:"clients"`
	Checks  int `json:"checks"`
	Results struct {
		OK       int `json:"ok"`
		Warning  int `json:"warning"`
		Critical int `json:"critical"`
		Unknown  int `json:"unknown"`
		Total    int `json:"total"`
		Stale    int `json:"stale"`
	} `json:"results"`
}

func TestListAggregates(t *testing.T) {
	ts := newTestServer(t)
	seedAggregate(t, ts, "web", "web-1:disk")
	seedAggregate(t, ts, "db", "db-1:disk")

	rec := ts.do(http.MethodGet, "/aggregates", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var aggregates []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aggregates))
	names := make([]string, 0, len(aggregates))
	for _, aggregate := range aggregates {
		names = append(names, aggregate.Name)
	}
	assert.ElementsMatch(t, []string{"web", "db"}, names)
}

func TestListAggregates_Empty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/aggregates", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetAggregate_SummarizesSeverities(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	seedAggregate(t, ts, "web", "web-1:disk", "web-1:load", "web-2:disk", "web-2:swap")
	ts.seedResult(t, "web-1", "disk", fmt.Sprintf(`{"name":"disk","status":0,"output":"ok","executed":%d}`, now))
	ts.seedResult(t, "web-1", "load", fmt.Sprintf(`{"name":"load","status":1,"output":"high","executed":%d}`, now))
	ts.seedResult(t, "web-2", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"full","executed":%d}`, now))
	ts.seedResult(t, "web-2", "swap", fmt.Sprintf(`{"name":"swap","status":7,"output":"?","executed":%d}`, now))

	rec := ts.do(http.MethodGet, "/aggregates/web", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var doc aggregateDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 2, doc.Clients)
	assert.Equal(t, 3, doc.Checks)
	assert.Equal(t, 1, doc.Results.OK)
	assert.Equal(t, 1, doc.Results.Warning)
	assert.Equal(t, 1, doc.Results.Critical)
	assert.Equal(t, 1, doc.Results.Unknown)
	assert.Equal(t, 4, doc.Results.Total)
	assert.Equal(t, 0, doc.Results.Stale)
}

func TestGetAggregate_MaxAgeMarksStale(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	seedAggregate(t, ts, "web", "web-1:disk", "web-2:disk")
	ts.seedResult(t, "web-1", "disk", fmt.Sprintf(`{"name":"disk","status":0,"output":"ok","executed":%d}`, now))
	ts.seedResult(t, "web-2", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"full","executed":%d}`, now-3600))

	rec := ts.do(http.MethodGet, "/aggregates/web?max_age=600", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var doc aggregateDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc.Results.Stale)
	assert.Equal(t, 1, doc.Results.Total)
	assert.Equal(t, 1, doc.Results.OK)
	assert.Equal(t, 0, doc.Results.Critical)
}

func TestGetAggregate_RepairsDanglingMembers(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	seedAggregate(t, ts, "web", "web-1:disk", "ghost:disk")
	ts.seedResult(t, "web-1", "disk", fmt.Sprintf(`{"name":"disk","status":0,"output":"ok","executed":%d}`, now))

	rec := ts.do(http.MethodGet, "/aggregates/web", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var doc aggregateDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	// Member names still count toward clients/checks; only the result
	// counters skip the dangling member.
	assert.Equal(t, 2, doc.Clients)
	assert.Equal(t, 1, doc.Checks)
	assert.Equal(t, 1, doc.Results.Total)

	// The removal runs detached from the request.
	assert.Eventually(t, func() bool {
		members, err := ts.redis.Members("aggregates:web")
		return err == nil && !slices.Contains(members, "ghost:disk")
	}, time.Second, 10*time.Millisecond)
}

func TestGetAggregate_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/aggregates/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAggregate(t *testing.T) {
	ts := newTestServer(t)
	seedAggregate(t, ts, "web", "web-1:disk")

	rec := ts.do(http.MethodDelete, "/aggregates/web", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, ts.redis.Exists("aggregates:web"))
	// Removing the last member auto-deletes the set, which the direct
	// Members helper reports as ErrKeyNotFound.
	members, err := ts.redis.Members("aggregates")
	if !errors.Is(err, miniredis.ErrKeyNotFound) {
		require.NoError(t, err)
	}
	assert.NotContains(t, members, "web")

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/aggregates/web", "").Code)
}

func TestAggregateClients_GroupsByClient(t *testing.T) {
	ts := newTestServer(t)
	seedAggregate(t, ts, "web", "web-1:disk", "web-1:load", "web-2:disk")

	rec := ts.do(http.MethodGet, "/aggregates/web/clients", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"name":"web-1","checks":["disk","load"]},
		{"name":"web-2","checks":["disk"]}
	]`, rec.Body.String())
}

func TestAggregateClients_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/aggregates/missing/clients", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAggregateChecks_GroupsByCheck(t *testing.T) {
	ts := newTestServer(t)
	seedAggregate(t, ts, "web", "web-1:disk", "web-1:load", "web-2:disk")

	rec := ts.do(http.MethodGet, "/aggregates/web/checks", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"name":"disk","clients":["web-1","web-2"]},
		{"name":"load","clients":["web-1"]}
	]`, rec.Body.String())
}

func TestAggregateResults_FiltersBySeverity(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	seedAggregate(t, ts, "web", "web-1:disk", "web-2:disk", "web-3:disk", "web-4:load")
	ts.seedResult(t, "web-1", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"disk critical","executed":%d}`, now))
	ts.seedResult(t, "web-2", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"disk critical","executed":%d}`, now))
	ts.seedResult(t, "web-3", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"disk full","executed":%d}`, now))
	ts.seedResult(t, "web-4", "load", fmt.Sprintf(`{"name":"load","status":1,"output":"high","executed":%d}`, now))

	rec := ts.do(http.MethodGet, "/aggregates/web/results/critical", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"check":"disk","summary":[
			{"output":"disk critical","total":2,"clients":["web-1","web-2"]},
			{"output":"disk full","total":1,"clients":["web-3"]}
		]}
	]`, rec.Body.String())
}

func TestAggregateResults_MaxAgeExcludesOld(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	seedAggregate(t, ts, "web", "web-1:disk", "web-2:disk")
	ts.seedResult(t, "web-1", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"disk critical","executed":%d}`, now))
	ts.seedResult(t, "web-2", "disk", fmt.Sprintf(`{"name":"disk","status":2,"output":"disk critical","executed":%d}`, now-3600))

	rec := ts.do(http.MethodGet, "/aggregates/web/results/critical?max_age=600", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"check":"disk","summary":[
			{"output":"disk critical","total":1,"clients":["web-1"]}
		]}
	]`, rec.Body.String())
}

func TestAggregateResults_InvalidSeverity(t *testing.T) {
	ts := newTestServer(t)
	seedAggregate(t, ts, "web", "web-1:disk")

	rec := ts.do(http.MethodGet, "/aggregates/web/results/bogus", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregateResults_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/aggregates/missing/results/critical", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
