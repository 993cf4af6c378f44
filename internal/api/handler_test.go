//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/domain"
	"github.com/ashureev/healdash/internal/live"
	"github.com/ashureev/healdash/internal/runner"
	"github.com/ashureev/healdash/internal/store"
	"github.com/go-chi/chi/v5"
)

type fakeSession struct {
	mu        sync.Mutex
	snap      domain.Snapshot
	status    domain.ConnectionStatus
	fns       map[int]func(live.Update)
	nextID    int
	connects  int
	clears    int
	currents  int
	listening chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		snap:      domain.EmptySnapshot(),
		status:    domain.ConnectionStatus{State: domain.StateDisconnected},
		fns:       make(map[int]func(live.Update)),
		listening: make(chan struct{}, 16),
	}
}

func (s *fakeSession) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeSession) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Current() live.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currents++
	return live.Update{Snapshot: s.snap, Status: s.status}
}

func (s *fakeSession) Subscribe(fn func(live.Update)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *fakeSession) StartConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.status = domain.ConnectionStatus{State: domain.StateConnecting}
}

func (s *fakeSession) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.snap = domain.EmptySnapshot()
}

// set replaces the state and publishes it like the real session does.
func (s *fakeSession) set(snap domain.Snapshot, status domain.ConnectionStatus) {
	s.mu.Lock()
	s.snap = snap
	s.status = status
	fns := make([]func(live.Update), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(live.Update{Snapshot: snap, Status: status})
	}
}

type fakeStarter struct {
	mu     sync.Mutex
	err    error
	params []runner.Params
}

func (f *fakeStarter) Start(_ context.Context, p runner.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return "", f.err
	}
	return "sess-1", nil
}

type testEnv struct {
	session *fakeSession
	starter *fakeStarter
	repo    *store.SQLiteStore
	handler *Handler
	router  chi.Router
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	env := &testEnv{session: newFakeSession(), starter: &fakeStarter{}, repo: repo}
	opts.IsDev = true
	env.handler = NewHandler(env.session, env.starter, repo, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(env.handler.Close)

	r := chi.NewRouter()
	env.handler.RegisterRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	snap := domain.EmptySnapshot()
	snap.SessionID = "abc"
	snap.Stages[domain.StageClone] = domain.StatusDone
	env.session.set(snap, domain.ConnectionStatus{State: domain.StateConnected, Connected: true})

	env.session.mu.Lock()
	before := env.session.currents
	env.session.mu.Unlock()

	w := env.do(http.MethodGet, "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	env.session.mu.Lock()
	reads := env.session.currents - before
	env.session.mu.Unlock()
	if reads != 1 {
		t.Errorf("session read %d times through Current, want one consistent read", reads)
	}
	var got sessionView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Snapshot.SessionID != "abc" || !got.Status.Connected || got.Complete {
		t.Errorf("view = %+v", got)
	}
	if got.Snapshot.Stages[domain.StageClone] != domain.StatusDone {
		t.Errorf("stages = %v", got.Snapshot.Stages)
	}
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(http.MethodPost, "/api/session", `{"repo_url":"https://github.com/a/b","team_name":"T","leader_name":"L"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"session_id":"sess-1"`) {
		t.Errorf("body = %s", w.Body)
	}
	if len(env.starter.params) != 1 || env.starter.params[0].TeamName != "T" {
		t.Errorf("params = %+v", env.starter.params)
	}

	if w := env.do(http.MethodPost, "/api/session", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", w.Code)
	}
}

func TestStartRunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid repo", runner.ErrInvalidRepoURL, http.StatusBadRequest},
		{"not connected", runner.ErrNotConnected, http.StatusServiceUnavailable},
		{"backend status", &backend.StatusError{Code: 500}, http.StatusBadGateway},
		{"other", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			env.starter.err = tt.err
			w := env.do(http.MethodPost, "/api/session", `{"repo_url":"https://github.com/a/b"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestStartRunRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitRequests: 2, RateLimitWindow: time.Hour})
	body := `{"repo_url":"https://github.com/a/b"}`

	for i := 0; i < 2; i++ {
		if w := env.do(http.MethodPost, "/api/session", body); w.Code != http.StatusAccepted {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}
	if w := env.do(http.MethodPost, "/api/session", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", w.Code)
	}
}

func TestConnectAndClear(t *testing.T) {
	env := newTestEnv(t, Options{})

	if w := env.do(http.MethodPost, "/api/session/connect", ""); w.Code != http.StatusAccepted {
		t.Errorf("connect status = %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/session", ""); w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
	if env.session.connects != 1 || env.session.clears != 1 {
		t.Errorf("connects=%d clears=%d", env.session.connects, env.session.clears)
	}
}

func TestGetDiff(t *testing.T) {
	env := newTestEnv(t, Options{})
	snap := domain.EmptySnapshot()
	snap.Diffs = []domain.DiffRecord{{File: "app.py", Line: 4, Before: "x = (1\n", After: "x = (1)\n"}}
	env.session.set(snap, domain.ConnectionStatus{})

	w := env.do(http.MethodGet, "/api/session/diffs/0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "-x = (1\n+x = (1)\n") {
		t.Errorf("diff body:\n%s", w.Body)
	}

	if w := env.do(http.MethodGet, "/api/session/diffs/1", ""); w.Code != http.StatusNotFound {
		t.Errorf("out of range status = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/session/diffs/x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d", w.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	run := &domain.Run{SessionID: "s1", RepoURL: "https://github.com/a/b", Status: "PASSED", Score: 90,
		Fixes: []domain.RunFix{{File: "a.py", Type: "SYNTAX", Status: "FIXED", Method: "ai"}}}
	if err := env.repo.SaveRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodGet, "/api/history?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != run.ID {
		t.Errorf("runs = %+v", list.Runs)
	}

	w = env.do(http.MethodGet, "/api/history/"+run.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got domain.Run
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Fixes) != 1 {
		t.Errorf("fixes = %+v", got.Fixes)
	}

	if w := env.do(http.MethodGet, "/api/history/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/history?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"degraded"`) || !strings.Contains(w.Body.String(), `"live":"disconnected"`) {
		t.Errorf("body = %s", w.Body)
	}

	env.session.set(domain.EmptySnapshot(), domain.ConnectionStatus{State: domain.StateConnected, Connected: true})
	w = env.do(http.MethodGet, "/api/health", "")
	if !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", w.Body)
	}

	_ = env.repo.Close()
	if w := env.do(http.MethodGet, "/api/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed db status = %d", w.Code)
	}
}
