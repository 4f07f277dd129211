package handler

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollcall/internal/auth"
	"rollcall/internal/dashboard"
	"rollcall/internal/model"
	"rollcall/internal/remote"
	"rollcall/internal/store"
)

//go:embed web/index.html
var indexHTML []byte

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the Handler.
type Options struct {
	Issuer       string
	SigningKey   string
	LoginTTL     time.Duration
	SecureCookie bool
	// StreamInterval is how often the event stream samples the dashboard.
	StreamInterval time.Duration
	Checks         map[string]HealthCheck
	Logger         *zap.Logger
	Now            func() time.Time
}

type Handler struct {
	dashboards *dashboard.Registry
	logins     store.LoginStore
	opts       Options
	log        *zap.Logger
}

func New(dashboards *dashboard.Registry, logins store.LoginStore, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = 12 * time.Hour
	}
	return &Handler{dashboards: dashboards, logins: logins, opts: opts, log: opts.Logger}
}

// Routes mounts the dashboard API on r. loginLimit guards the login route
// and may be nil.
func (h *Handler) Routes(r gin.IRouter, loginLimit gin.HandlerFunc) {
	r.GET("/", h.Index)
	r.GET("/healthz", h.Healthz)

	login := []gin.HandlerFunc{h.Login}
	if loginLimit != nil {
		login = append([]gin.HandlerFunc{loginLimit}, login...)
	}
	r.POST("/api/login", login...)

	api := r.Group("/api", auth.TeacherAuth(h.opts.SigningKey, h.opts.Issuer))
	api.POST("/logout", h.Logout)
	api.GET("/dashboard", h.Dashboard)
	api.GET("/dashboard/stream", h.Stream)
	api.PUT("/course", h.SetCourse)
	api.POST("/sessions", h.StartSession)
	api.POST("/attendance/manual", h.AddManual)
	api.GET("/attendance/export", h.Export)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok", "dashboards": h.dashboards.Len()}
	for name, check := range h.opts.Checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Page ----------

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// ---------- Login / Logout ----------

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates against the attendance service and opens a dashboard
// for the teacher. The upstream credential stays on the server; the browser
// gets a signed dashboard token as bearer value and cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter username and password"})
		return
	}

	ctl := h.dashboards.New()
	if err := ctl.Login(c.Request.Context(), req.Username, req.Password); err != nil {
		ctl.Close()
		status := http.StatusBadGateway
		if remote.IsServiceError(err) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": dashboard.DisplayMessage(err)})
		return
	}

	id := uuid.NewString()
	snap := ctl.Snapshot()
	tok, err := auth.Issue(id, snap.Presenter, h.opts.Issuer, h.opts.SigningKey, h.opts.LoginTTL)
	if err != nil {
		ctl.Close()
		h.log.Error("issue dashboard token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": dashboard.MsgGeneric})
		return
	}

	var teacher model.Teacher
	if snap.Teacher != nil {
		teacher = *snap.Teacher
	}
	err = h.logins.Save(c.Request.Context(), store.Login{
		DashboardID: id,
		Token:       ctl.Token(),
		Teacher:     teacher,
		ExpiresAt:   tok.ExpiresAt,
	})
	if err != nil {
		// the dashboard still works until this process restarts
		h.log.Warn("login store save failed", zap.String("dashboard_id", id), zap.Error(err))
	}

	h.dashboards.Put(id, ctl, tok.ExpiresAt)
	h.setCookie(c, tok.Value, tok.ExpiresAt)
	h.log.Info("teacher logged in", zap.String("dashboard_id", id), zap.String("presenter", snap.Presenter))

	c.JSON(http.StatusOK, gin.H{
		"token":     tok.Value,
		"expiresAt": tok.ExpiresAt,
		"dashboard": snap,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	h.dashboards.Remove(claims.Subject)
	if err := h.logins.Delete(c.Request.Context(), claims.Subject); err != nil {
		h.log.Warn("login store delete failed", zap.String("dashboard_id", claims.Subject), zap.Error(err))
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"loggedIn": false})
}

// controller resolves the dashboard behind the request token, rebuilding it
// from the login store after a restart.
func (h *Handler) controller(c *gin.Context) (*dashboard.Controller, bool) {
	claims, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": dashboard.ErrNotLoggedIn.Message})
		return nil, false
	}
	if ctl, ok := h.dashboards.Get(claims.Subject); ok {
		return ctl, true
	}
	login, err := h.logins.Get(c.Request.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, store.ErrLoginNotFound) {
			h.log.Warn("login store lookup failed", zap.String("dashboard_id", claims.Subject), zap.Error(err))
		}
		h.clearCookie(c)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": dashboard.ErrNotLoggedIn.Message})
		return nil, false
	}
	h.log.Info("dashboard restored", zap.String("dashboard_id", claims.Subject))
	return h.dashboards.Restore(claims.Subject, login.Token, login.Teacher, login.ExpiresAt), true
}

// ---------- Dashboard ----------

func (h *Handler) Dashboard(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

// Stream pushes a "dashboard" event whenever the snapshot changes, and a
// "logout" event when the dashboard is closed elsewhere.
func (h *Handler) Stream(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	claims, _ := auth.FromContext(c)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.opts.StreamInterval)
	defer ticker.Stop()

	var last []byte
	send := func() bool {
		if cur, ok := h.dashboards.Get(claims.Subject); !ok || cur != ctl {
			c.SSEvent("logout", "{}")
			return false
		}
		payload, err := json.Marshal(ctl.Snapshot())
		if err != nil {
			h.log.Error("encode snapshot", zap.Error(err))
			return false
		}
		if string(payload) != string(last) {
			c.SSEvent("dashboard", string(payload))
			last = payload
		}
		return true
	}

	ctx := c.Request.Context()
	first := true
	c.Stream(func(_ io.Writer) bool {
		if first {
			first = false
			return send()
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return send()
		}
	})
}

type courseRequest struct {
	Course string `json:"course"`
}

func (h *Handler) SetCourse(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ctl.SetCourse(req.Course)
	c.JSON(http.StatusOK, ctl.Snapshot())
}

// ---------- Sessions ----------

type sessionRequest struct {
	// DurationMinutes accepts a JSON number or the raw text typed by the teacher.
	DurationMinutes any    `json:"durationMinutes"`
	Course          string `json:"course"`
}

func (h *Handler) StartSession(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := ctl.StartSession(c.Request.Context(), durationText(req.DurationMinutes), req.Course); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ctl.Snapshot())
}

func durationText(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(d)
	}
}

// ---------- Attendance ----------

type manualRequest struct {
	StudentName   string `json:"studentName"`
	StudentNumber string `json:"studentNumber"`
}

func (h *Handler) AddManual(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := ctl.AddManual(c.Request.Context(), req.StudentName, req.StudentNumber); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ctl.Snapshot())
}

func (h *Handler) Export(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	out, err := ctl.Export(c.Request.Context(), h.opts.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
	c.Header("X-Record-Count", strconv.Itoa(out.Records))
	c.Data(http.StatusOK, xlsxContentType, out.Data)
}

// fail maps the error taxonomy onto HTTP statuses. The body always carries
// the message the page shows.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var ve *model.ValidationError
	switch {
	case errors.Is(err, dashboard.ErrNotLoggedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, dashboard.ErrNoSession):
		status = http.StatusConflict
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, dashboard.ErrSuperseded):
		status = http.StatusConflict
	case remote.IsServiceError(err):
		// upstream rejection, shown verbatim
	default:
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": dashboard.DisplayMessage(err)})
}

func (h *Handler) setCookie(c *gin.Context, value string, expires time.Time) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, value, int(time.Until(expires).Seconds()), "/", "", h.opts.SecureCookie, true)
}

func (h *Handler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.opts.SecureCookie, true)
}
