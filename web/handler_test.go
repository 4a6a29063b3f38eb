package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/browser"
	"github.com/campushq/coursetrack/reconcile"
	"github.com/campushq/coursetrack/session"
	"github.com/campushq/coursetrack/store"
	"github.com/campushq/coursetrack/syncer"
)

type fixture struct {
	handler *Handler
	store   *store.Store
	auth    *auth.Store
	syncer  *syncer.Service
}

type stubLoginSession struct{}

func (stubLoginSession) CheckAlreadyLoggedIn() bool { return true }
func (stubLoginSession) WaitForLogin(time.Duration, func()) error {
	return nil
}
func (stubLoginSession) Export() (session.Snapshot, error) {
	return session.Snapshot{
		Cookies: []browser.Cookie{{Name: "SESSID", Value: "abc"}},
		BaseURL: "https://learningsuite.byu.edu/.DaEo",
	}, nil
}
func (stubLoginSession) Close() error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reconciler, err := reconcile.New(reconcile.Options{Store: db})
	require.NoError(t, err)

	authStore := auth.NewStore(nil, nil)

	service, err := syncer.New(syncer.Options{
		Auth:       authStore,
		Store:      db,
		Reconciler: reconciler,
		OpenSession: func() (syncer.SyncSession, error) {
			return nil, errors.New("chromedriver unreachable")
		},
	})
	require.NoError(t, err)

	tracker, err := auth.NewTracker(auth.TrackerOptions{
		Store:       authStore,
		OpenSession: func() (auth.LoginSession, error) { return stubLoginSession{}, nil },
	})
	require.NoError(t, err)

	handler, err := NewHandler(Options{
		Syncer:  service,
		Auth:    authStore,
		Tracker: tracker,
		Store:   db,
	})
	require.NoError(t, err)
	return &fixture{handler: handler, store: db, auth: authStore, syncer: service}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &value))
	return value
}

func insertAssignment(t *testing.T, db *store.Store) *store.Assignment {
	t.Helper()
	due := time.Date(2026, time.April, 2, 23, 59, 0, 0, time.UTC)
	a := &store.Assignment{
		Title:      "Homework 3",
		CourseName: "C S 142 (Section 1) - Intro",
		DueDate:    &due,
		Status:     store.StatusNotStarted,
	}
	require.NoError(t, db.Insert(a))
	return a
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/ping", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncStartAndStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.auth.SetSnapshot(session.Snapshot{
		Cookies: []browser.Cookie{{Name: "SESSID", Value: "abc"}},
		BaseURL: "https://learningsuite.byu.edu/.DaEo",
	}))

	rec := f.do(t, http.MethodPost, "/sync/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decode[map[string]string](t, rec)["task_id"]
	require.NotEmpty(t, taskID)

	deadline := time.Now().Add(5 * time.Second)
	var status syncer.Status
	for time.Now().Before(deadline) {
		rec = f.do(t, http.MethodGet, "/sync/status/"+taskID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		status = decode[syncer.Status](t, rec)
		if status.State == syncer.StateFailed || status.State == syncer.StateCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The fixture's driver is unreachable, so the run fails fast.
	assert.Equal(t, syncer.StateFailed, status.State)
	assert.Contains(t, status.Error, "chromedriver unreachable")
}

func TestSyncStatus_Unknown(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/sync/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncLast(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/sync/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.AppendRunMetadata(store.RunRecord{
		Status:         store.RunSuccess,
		CoursesScraped: 4,
	}))
	rec = f.do(t, http.MethodGet, "/sync/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	last := decode[store.RunRecord](t, rec)
	assert.Equal(t, store.RunSuccess, last.Status)
	assert.Equal(t, 4, last.CoursesScraped)
}

func TestAuthStatusAndLogout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["authenticated"])

	require.NoError(t, f.auth.SetSnapshot(session.Snapshot{
		Cookies: []browser.Cookie{{Name: "SESSID", Value: "abc"}},
	}))
	rec = f.do(t, http.MethodGet, "/auth/status", nil)
	assert.True(t, decode[map[string]bool](t, rec)["authenticated"])

	rec = f.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.auth.Authenticated())
}

func TestBrowserLoginFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/browser-login", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decode[map[string]string](t, rec)["task_id"]

	deadline := time.Now().Add(5 * time.Second)
	var status auth.LoginStatus
	for time.Now().Before(deadline) {
		rec = f.do(t, http.MethodGet, "/auth/browser-status/"+taskID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		status = decode[auth.LoginStatus](t, rec)
		if status.State == auth.LoginAuthenticated || status.State == auth.LoginFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, auth.LoginAuthenticated, status.State)
	assert.True(t, f.auth.Authenticated())
}

func TestBrowserStatus_Unknown(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/auth/browser-status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAssignments(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/assignments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[map[string][]store.Assignment](t, rec)
	assert.Empty(t, empty["assignments"])

	insertAssignment(t, f.store)
	rec = f.do(t, http.MethodGet, "/assignments?status=not_started", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[map[string][]store.Assignment](t, rec)
	require.Len(t, listed["assignments"], 1)
	assert.Equal(t, "Homework 3", listed["assignments"][0].Title)

	rec = f.do(t, http.MethodGet, "/assignments?status=submitted", nil)
	listed = decode[map[string][]store.Assignment](t, rec)
	assert.Empty(t, listed["assignments"])

	rec = f.do(t, http.MethodGet, "/assignments?due_before=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsSummary(t *testing.T) {
	f := newFixture(t)
	insertAssignment(t, f.store)

	rec := f.do(t, http.MethodGet, "/assignments/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[store.Stats](t, rec)
	assert.Equal(t, 1, stats.Total)
}

func TestGetAssignment(t *testing.T) {
	f := newFixture(t)
	a := insertAssignment(t, f.store)

	rec := f.do(t, http.MethodGet, "/assignments/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Assignment](t, rec)
	assert.Equal(t, a.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/assignments/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchAssignment(t *testing.T) {
	f := newFixture(t)
	a := insertAssignment(t, f.store)

	rec := f.do(t, http.MethodPatch, "/assignments/"+a.ID, map[string]any{
		"status":            "in_progress",
		"notes":             "started in class",
		"estimated_minutes": 90,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Assignment](t, rec)
	assert.Equal(t, store.StatusInProgress, got.Status)
	assert.Equal(t, "started in class", got.Notes)
	require.NotNil(t, got.EstimatedMinutes)
	assert.Equal(t, 90, *got.EstimatedMinutes)
	assert.True(t, got.IsModified, "any edit fences the record")
}

func TestPatchAssignment_PlanningFields(t *testing.T) {
	f := newFixture(t)
	a := insertAssignment(t, f.store)

	rec := f.do(t, http.MethodPatch, "/assignments/"+a.ID, map[string]any{
		"planned_start": "2026-04-01T09:00:00Z",
		"planned_end":   "2026-04-01T11:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Assignment](t, rec)
	require.NotNil(t, got.PlannedStart)
	require.NotNil(t, got.PlannedEnd)

	// Empty strings clear.
	rec = f.do(t, http.MethodPatch, "/assignments/"+a.ID, map[string]any{
		"planned_start": "",
		"planned_end":   "",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[store.Assignment](t, rec)
	assert.Nil(t, got.PlannedStart)
	assert.Nil(t, got.PlannedEnd)
}

func TestPatchAssignment_Validation(t *testing.T) {
	f := newFixture(t)
	a := insertAssignment(t, f.store)

	for name, body := range map[string]map[string]any{
		"estimate too small": {"estimated_minutes": 0},
		"estimate too large": {"estimated_minutes": 1441},
		"bad status":         {"status": "definitely_done"},
		"bad planned_start":  {"planned_start": "tomorrow"},
		"unknown field":      {"title": "renamed"},
		"empty body":         {},
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPatch, "/assignments/"+a.ID, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := f.do(t, http.MethodPatch, "/assignments/nope", map[string]any{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/assignments/"+a.ID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
