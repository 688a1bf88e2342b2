package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planzut/plan-sync/internal/discovery"
	"github.com/planzut/plan-sync/internal/runs"
	"github.com/planzut/plan-sync/internal/schedule"
	"github.com/planzut/plan-sync/internal/store"
	"github.com/planzut/plan-sync/internal/student"
)

// fakePortal stands in for plan.zut.edu.pl behind both the resolver and
// the discoverer.
type fakePortal struct {
	rooms      []string
	roomGroups map[string][]string // room -> group names (tok "INF")
	toks       []string            // tok_names in the student's own schedule
	groups     map[string][]schedule.Lesson
}

func (p *fakePortal) StudentSchedule(_ context.Context, _ string, _ schedule.Range) ([]schedule.Lesson, error) {
	ret := make([]schedule.Lesson, 0, len(p.toks))
	for _, tok := range p.toks {
		ret = append(ret, schedule.Lesson{TokName: tok})
	}
	return ret, nil
}

func (p *fakePortal) GroupSchedule(_ context.Context, group string, _ schedule.Range) ([]schedule.Lesson, error) {
	return p.groups[group], nil
}

func (p *fakePortal) Discover(_ context.Context, toks []string, _ schedule.Range, _ int, _ bool, cb discovery.Callbacks) (discovery.Result, error) {
	if len(p.rooms) == 0 {
		return discovery.Result{}, fmt.Errorf("no rooms")
	}
	if cb.OnRooms != nil {
		cb.OnRooms(p.rooms)
	}
	tok := toks[0]
	merged := make(map[string]struct{})
	for _, room := range p.rooms {
		groups := p.roomGroups[room]
		for _, g := range groups {
			merged[g] = struct{}{}
		}
		if cb.OnRoom != nil {
			cb.OnRoom(room, map[string][]string{tok: groups}, nil)
		}
	}
	all := make([]string, 0, len(merged))
	for g := range merged {
		all = append(all, g)
	}
	return discovery.Result{
		Rooms:          p.rooms,
		GroupsByTok:    map[string][]string{tok: all},
		RoomsTotal:     len(p.rooms),
		RoomsProcessed: len(p.rooms),
	}, nil
}

type testEnv struct {
	store   *store.Store
	manager *runs.Manager
	ts      *httptest.Server
}

func newTestEnv(t *testing.T, portal *fakePortal) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "plansync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	manager := runs.NewManager(st, portal)
	resolver := student.NewResolver(st, portal, portal)
	srv := NewServer(manager, resolver, st, WithDefaultTokName("INF"), WithDefaultWorkers(4))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, manager: manager, ts: ts}
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func defaultPortal() *fakePortal {
	return &fakePortal{
		rooms:      []string{"WI1 102", "WI1 7"},
		roomGroups: map[string][]string{"WI1 102": {"31 INF"}, "WI1 7": {"12 INF", "31 INF"}},
		toks:       []string{"INF"},
		groups: map[string][]schedule.Lesson{
			"31 INF": {{GroupName: "31 INF", Start: "2026-03-16T08:15:00", End: "2026-03-16T10:00:00", Title: "Analiza"}},
			"12 INF": {{GroupName: "12 INF", Start: "2026-03-17T08:15:00", End: "2026-03-17T10:00:00", Title: "Fizyka"}},
		},
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, defaultPortal())

	var got map[string]any
	require.Equal(t, http.StatusOK, env.get(t, "/api/health", &got))
	assert.Equal(t, true, got["ok"])
}

func TestServer_SyncLifecycle(t *testing.T) {
	env := newTestEnv(t, defaultPortal())

	var started map[string]string
	require.Equal(t, http.StatusOK, env.post(t, "/api/sync", map[string]any{}, &started))
	runID := started["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		var run runs.Run
		if env.get(t, "/api/runs/"+runID, &run) != http.StatusOK {
			return false
		}
		return run.Status == runs.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	var run runs.Run
	require.Equal(t, http.StatusOK, env.get(t, "/api/runs/"+runID, &run))
	assert.Equal(t, "INF", run.TokName, "tok_name defaults from server config")
	assert.Equal(t, 2, run.RoomsTotal)
	assert.Equal(t, 2, run.RoomsProcessed)
	assert.Equal(t, 2, run.GroupsFound)

	var active map[string]any
	require.Equal(t, http.StatusOK, env.get(t, "/api/runs/active", &active))
	assert.Nil(t, active["run_id"], "no active run after completion")

	var groups groupsResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/groups?run_id="+runID, &groups))
	assert.Equal(t, []string{"12 INF", "31 INF"}, groups.Groups)

	// Without run_id the latest successful run answers.
	groups = groupsResponse{}
	require.Equal(t, http.StatusOK, env.get(t, "/api/groups", &groups))
	require.NotNil(t, groups.RunID)
	assert.Equal(t, runID, *groups.RunID)
	assert.Equal(t, []string{"12 INF", "31 INF"}, groups.Groups)

	var rooms map[string][]string
	require.Equal(t, http.StatusOK, env.get(t, "/api/rooms", &rooms))
	assert.Equal(t, []string{"WI1 102", "WI1 7"}, rooms["rooms"])
}

func TestServer_SyncConflictIs409(t *testing.T) {
	portal := defaultPortal()
	env := newTestEnv(t, portal)

	// Hold the run open by making it long enough to observe.
	portal.rooms = make([]string, 200)
	for i := range portal.rooms {
		portal.rooms[i] = fmt.Sprintf("room-%03d", i)
	}

	var started map[string]string
	require.Equal(t, http.StatusOK, env.post(t, "/api/sync", map[string]any{}, &started))

	var conflict map[string]string
	code := env.post(t, "/api/sync", map[string]any{}, &conflict)
	if code == http.StatusConflict {
		assert.Contains(t, conflict["error"], "already running")
	} else {
		// The first run may already have finished on a fast machine.
		require.Equal(t, http.StatusOK, code)
	}
	env.manager.Wait()
}

func TestServer_SyncBadDates(t *testing.T) {
	env := newTestEnv(t, defaultPortal())

	var got map[string]string
	code := env.post(t, "/api/sync", map[string]any{"start": "2026-03-10", "end": "2026-03-01"}, &got)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, got["error"], "end must be after start")
}

func TestServer_UnknownRunIs404(t *testing.T) {
	env := newTestEnv(t, defaultPortal())
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/runs/no-such-run", nil))
}

func TestServer_GroupsFallsBackToCanonical(t *testing.T) {
	env := newTestEnv(t, defaultPortal())
	_, err := env.store.UpsertGroups(context.Background(), "INF", []string{"31 INF"})
	require.NoError(t, err)

	var groups groupsResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/groups?tok_name=INF", &groups))
	assert.Nil(t, groups.RunID)
	assert.Equal(t, []string{"31 INF"}, groups.Groups)
}

func TestServer_StudentEnsureAndWeek(t *testing.T) {
	env := newTestEnv(t, defaultPortal())

	var ensure student.EnsureResponse
	code := env.post(t, "/api/student/ensure", map[string]any{
		"album_number": "51234",
		"majors_count": 1,
		"week_start":   "2026-03-16",
	}, &ensure)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"INF"}, ensure.TokNames)
	assert.True(t, ensure.Discovery.Performed)
	assert.Equal(t, map[string][]string{"INF": {"12 INF", "31 INF"}}, ensure.GroupsByTok)

	var week student.WeekResponse
	code = env.post(t, "/api/student/week", map[string]any{
		"album_number": "51234",
		"week_start":   "2026-03-16",
	}, &week)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, week.GroupsTotal)
	assert.Equal(t, 2, week.GroupsFetched)
	require.Len(t, week.Lessons, 2)
	assert.Equal(t, "Analiza", week.Lessons[0].Title)
}

func TestServer_StudentErrors(t *testing.T) {
	env := newTestEnv(t, defaultPortal())

	var got map[string]string
	code := env.post(t, "/api/student/ensure", map[string]any{"album_number": "not-digits"}, &got)
	assert.Equal(t, http.StatusBadRequest, code)

	code = env.post(t, "/api/student/week", map[string]any{"album_number": "99999"}, &got)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, got["error"], "not resolved")
}
