// Package attendancetest provides an in-process stand-in for the remote
// attendance service, for tests and local development.
package attendancetest

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"rollcall/internal/model"
)

type account struct {
	password string
	teacher  model.Teacher
}

// Hold blocks roster responses for one session until released.
type Hold struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
	seen    sync.Once
}

// Arrived is closed once a held list request has reached the server.
func (h *Hold) Arrived() <-chan struct{} { return h.arrived }

// Release lets held and future list requests for the session complete.
func (h *Hold) Release() { h.once.Do(func() { close(h.release) }) }

// Server emulates the attendance service endpoints the dashboard calls.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]account
	tokens       map[string]string
	sessions     map[string]model.Session
	records      map[string][]model.Record
	holds        map[string]*Hold
	listFailures int
	manualReject string
	calls        map[string]int
	lastMinutes  float64
}

// NewServer starts a fake attendance service. Close it when done.
func NewServer() *Server {
	s := NewUnstarted()
	s.Server.Start()
	return s
}

// NewUnstarted builds the fake without binding a listener; callers may
// serve s.Handler() themselves.
func NewUnstarted() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		now:      time.Now,
		accounts: make(map[string]account),
		tokens:   make(map[string]string),
		sessions: make(map[string]model.Session),
		records:  make(map[string][]model.Record),
		holds:    make(map[string]*Hold),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewUnstartedServer(s.Handler())
	return s
}

// Handler returns the routed fake API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/api/auth/login", s.login)
	r.POST("/api/sessions", s.createSession)
	r.GET("/api/attend/list", s.list)
	r.POST("/api/attend/manual", s.manual)
	return r
}

// SetClock overrides the time source used for expiry and check-in stamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddTeacher registers login credentials.
func (s *Server) AddTeacher(username, password string, t model.Teacher) {
	s.mu.Lock()
	s.accounts[username] = account{password: password, teacher: t}
	s.mu.Unlock()
}

// CheckIn records a code check-in from a student device.
func (s *Server) CheckIn(sessionID, name, number, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = append(s.records[sessionID], model.Record{
		StudentName:   name,
		StudentNumber: number,
		AttendedAt:    s.now().UTC(),
		SessionID:     sessionID,
		DeviceID:      deviceID,
	})
}

// FailLists makes the next n list requests fail with a 500.
func (s *Server) FailLists(n int) {
	s.mu.Lock()
	s.listFailures = n
	s.mu.Unlock()
}

// RejectManual makes manual entries fail with msg; "" accepts them again.
func (s *Server) RejectManual(msg string) {
	s.mu.Lock()
	s.manualReject = msg
	s.mu.Unlock()
}

// HoldLists blocks list responses for sessionID until the hold is released.
func (s *Server) HoldLists(sessionID string) *Hold {
	h := &Hold{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.holds[sessionID] = h
	s.mu.Unlock()
	return h
}

// Calls returns how many requests hit an endpoint ("login", "sessions", "list", "manual").
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// LastDuration returns the durationMinutes of the latest create request.
func (s *Server) LastDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMinutes
}

// Session returns a created session by id.
func (s *Server) Session(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) count(endpoint string) {
	s.mu.Lock()
	s.calls[endpoint]++
	s.mu.Unlock()
}

func (s *Server) authorized(c *gin.Context) bool {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[strings.TrimSpace(authz[len("bearer "):])]
	return ok
}

func (s *Server) login(c *gin.Context) {
	s.count("login")
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	if !ok || acc.password != req.Password {
		s.mu.Unlock()
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid username or password"})
		return
	}
	token := uuid.NewString()
	s.tokens[token] = req.Username
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "teacher": acc.teacher})
}

func (s *Server) createSession(c *gin.Context) {
	s.count("sessions")
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}
	var req struct {
		DurationMinutes float64 `json:"durationMinutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DurationMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "durationMinutes must be positive"})
		return
	}

	id := uuid.NewString()
	png, err := qrcode.Encode(id, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "QR generation failed"})
		return
	}

	s.mu.Lock()
	s.lastMinutes = req.DurationMinutes
	sess := model.Session{
		ID:        id,
		ExpiresAt: s.now().UTC().Add(time.Duration(req.DurationMinutes * float64(time.Minute))),
		CodeImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": sess.ID,
		"qrDataUrl": sess.CodeImage,
		"expiresAt": sess.ExpiresAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) list(c *gin.Context) {
	s.count("list")
	sessionID := c.Query("session")

	s.mu.Lock()
	if s.listFailures > 0 {
		s.listFailures--
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal error"})
		return
	}
	hold := s.holds[sessionID]
	s.mu.Unlock()

	if hold != nil {
		hold.seen.Do(func() { close(hold.arrived) })
		select {
		case <-hold.release:
		case <-c.Request.Context().Done():
			return
		}
	}

	s.mu.Lock()
	items := make([]gin.H, 0, len(s.records[sessionID]))
	for _, r := range s.records[sessionID] {
		items = append(items, gin.H{
			"studentName":   r.StudentName,
			"studentNumber": r.StudentNumber,
			"attendedAt":    r.AttendedAt.Format(time.RFC3339Nano),
			"sessionId":     r.SessionID,
			"deviceId":      r.DeviceID,
		})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success": true, "items": items})
}

func (s *Server) manual(c *gin.Context) {
	s.count("manual")
	var req struct {
		SessionID     string `json:"sessionId"`
		StudentName   string `json:"studentName"`
		StudentNumber string `json:"studentNumber"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
		return
	}

	s.mu.Lock()
	reject := s.manualReject
	_, known := s.sessions[req.SessionID]
	s.mu.Unlock()

	switch {
	case reject != "":
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": reject})
		return
	case strings.TrimSpace(req.StudentName) == "" || strings.TrimSpace(req.StudentNumber) == "":
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "studentName and studentNumber are required"})
		return
	case !known:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Session not found"})
		return
	}

	s.CheckIn(req.SessionID, req.StudentName, req.StudentNumber, model.ManualEntryDevice)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
