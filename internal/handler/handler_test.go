package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendancetest"
	"rollcall/internal/auth"
	"rollcall/internal/dashboard"
	"rollcall/internal/model"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

var exportTime = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type env struct {
	srv    *attendancetest.Server
	reg    *dashboard.Registry
	logins *store.MemoryLogins
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := attendancetest.NewServer()
	srv.AddTeacher("grace", "hopper", model.Teacher{Name: "Grace Hopper", Username: "grace"})
	e := &env{srv: srv, logins: store.NewMemoryLogins()}
	e.reg, e.router = e.mount()
	t.Cleanup(func() {
		e.reg.CloseAll()
		srv.Close()
	})
	return e
}

// mount builds a fresh registry and router over the shared service and
// login store, as a restarted process would.
func (e *env) mount() (*dashboard.Registry, *gin.Engine) {
	reg := dashboard.NewRegistry(remote.New(e.srv.URL, 2*time.Second), dashboard.Options{
		PollInterval: time.Hour,
		TickInterval: 10 * time.Millisecond,
		Localizer:    roster.Localizer{Location: time.UTC},
	})
	h := New(reg, e.logins, Options{
		Issuer:         "rollcall-test",
		SigningKey:     "test-key",
		LoginTTL:       time.Hour,
		StreamInterval: 10 * time.Millisecond,
		Now:            func() time.Time { return exportTime },
		Checks: map[string]HealthCheck{
			"remote": func(ctx context.Context) bool { return remote.New(e.srv.URL, time.Second).Health(ctx) == nil },
		},
	})
	r := gin.New()
	h.Routes(r, nil)
	return reg, r
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) login(t *testing.T) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/login", "", gin.H{"username": "grace", "password": "hopper"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token     string             `json:"token"`
		Dashboard dashboard.Snapshot `json:"dashboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func snapshotOf(t *testing.T, w *httptest.ResponseRecorder) dashboard.Snapshot {
	t.Helper()
	var s dashboard.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/login", "", gin.H{"username": "grace"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/login", "", gin.H{"username": "grace", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid username or password", errorOf(t, w))
	assert.Zero(t, e.reg.Len())

	w = e.do(http.MethodPost, "/api/login", "", gin.H{"username": "grace", "password": "hopper"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.CookieName+"=")
	assert.Contains(t, w.Body.String(), `"presenter":"Grace Hopper"`)
	assert.Equal(t, 1, e.reg.Len())
}

func TestLoginServiceDown(t *testing.T) {
	e := newEnv(t)
	e.srv.Close()

	w := e.do(http.MethodPost, "/api/login", "", gin.H{"username": "grace", "password": "hopper"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, dashboard.MsgGeneric, errorOf(t, w))
}

func TestRequiresDashboardToken(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/api/dashboard", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCookieAuth(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, snapshotOf(t, w).LoggedIn)
}

func TestSessionManualEntryExport(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPost, "/api/sessions", token, gin.H{"durationMinutes": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Duration must be a positive number", errorOf(t, w))
	assert.Zero(t, e.srv.Calls("sessions"))

	w = e.do(http.MethodPost, "/api/sessions", token, gin.H{"durationMinutes": 10, "course": "CS-101/Lab #2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := snapshotOf(t, w)
	require.NotNil(t, snap.Session)
	assert.Equal(t, float64(10), e.srv.LastDuration())
	assert.Equal(t, "CS-101/Lab #2", snap.Course)
	assert.Contains(t, snap.Countdown, "remaining")

	w = e.do(http.MethodPost, "/api/attendance/manual", token, gin.H{"studentName": "Ada Lovelace"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please fill in both name and student number", errorOf(t, w))
	assert.Zero(t, e.srv.Calls("manual"))

	w = e.do(http.MethodPost, "/api/attendance/manual", token, gin.H{"studentName": "Ada Lovelace", "studentNumber": "123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap = snapshotOf(t, w)
	require.Len(t, snap.Roster, 1)
	assert.Equal(t, "Manual", snap.Roster[0].Source)

	e.srv.RejectManual("Student already checked in")
	w = e.do(http.MethodPost, "/api/attendance/manual", token, gin.H{"studentName": "Ada Lovelace", "studentNumber": "123"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Student already checked in", errorOf(t, w))

	w = e.do(http.MethodGet, "/api/attendance/export", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=Attendance_CS-101_Lab_2_2026-10-18-09-30-00.xlsx", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "1", w.Header().Get("X-Record-Count"))
	assert.NotZero(t, w.Body.Len())
}

func TestManualEntryWithoutSession(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPost, "/api/attendance/manual", token, gin.H{"studentName": "Ada", "studentNumber": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Start a session first", errorOf(t, w))
}

func TestSetCourse(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPut, "/api/course", token, gin.H{"course": "Networks"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Networks", snapshotOf(t, w).Course)
}

func TestDashboardRestoredAfterRestart(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	old := e.reg
	e.reg, e.router = e.mount()
	t.Cleanup(old.CloseAll)

	w := e.do(http.MethodGet, "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := snapshotOf(t, w)
	assert.True(t, snap.LoggedIn)
	assert.Equal(t, "Grace Hopper", snap.Presenter)
	assert.Equal(t, 1, e.reg.Len())

	w = e.do(http.MethodPost, "/api/sessions", token, gin.H{"durationMinutes": "5"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestExportNonASCIICourse(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPut, "/api/course", token, gin.H{"course": "Ağ Yönetimi"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/attendance/export", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t,
		"attachment; filename*=utf-8''Attendance_A%C4%9F_Y%C3%B6netimi_2026-10-18-09-30-00.xlsx",
		w.Header().Get("Content-Disposition"))
}

func TestLoginExpiryClosesDashboard(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPost, "/api/sessions", token, gin.H{"durationMinutes": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Eventually(t, func() bool { return e.srv.Calls("list") >= 1 }, time.Second, 5*time.Millisecond)

	assert.Zero(t, e.reg.Sweep(time.Now()))
	assert.Equal(t, 1, e.reg.Len())

	assert.Equal(t, 1, e.reg.Sweep(time.Now().Add(2*time.Hour)))
	assert.Zero(t, e.reg.Len())
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.do(http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, e.reg.Len())

	w = e.do(http.MethodGet, "/api/dashboard", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remote":true`)

	e.srv.Close()
	w = e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestIndex(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/api/dashboard/stream")
}

func TestStream(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/dashboard/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(res.Body)
	next := func() (string, string) {
		var event, data string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && event != "":
				return event, data
			}
		}
		return event, data
	}

	event, data := next()
	assert.Equal(t, "dashboard", event)
	var snap dashboard.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.True(t, snap.LoggedIn)
	assert.Nil(t, snap.Session)

	w := e.do(http.MethodPost, "/api/sessions", token, gin.H{"durationMinutes": "10"})
	require.Equal(t, http.StatusCreated, w.Code)
	for snap.Session == nil {
		event, data = next()
		require.Equal(t, "dashboard", event)
		require.NoError(t, json.Unmarshal([]byte(data), &snap))
	}
	assert.NotEmpty(t, snap.Session.CodeImage)

	w = e.do(http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	for {
		event, _ = next()
		if event != "dashboard" {
			break
		}
	}
	assert.Equal(t, "logout", event)
}

func TestDurationText(t *testing.T) {
	assert.Equal(t, "10", durationText(float64(10)))
	assert.Equal(t, "2.5", durationText(2.5))
	assert.Equal(t, " 7 ", durationText(" 7 "))
	assert.Equal(t, "", durationText(nil))
	assert.Equal(t, "true", durationText(true))
}
