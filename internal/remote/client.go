package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rollcall/internal/model"
)

// Fallback messages used when the service rejects a call without saying why.
const (
	MsgLoginFailed   = "Login failed"
	MsgCreateFailed  = "Could not create session"
	MsgListFailed    = "Could not load attendance list"
	MsgManualFailed  = "Could not add entry"
	maxResponseBytes = 4 << 20
)

// ServiceError is a failure reported by the attendance service itself
// (non-2xx status or success=false). Message is shown to the user verbatim.
type ServiceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

// IsServiceError reports whether err carries a service-reported failure.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// LoginResult holds the bearer token and teacher identity from a login.
type LoginResult struct {
	Token   string
	Teacher model.Teacher
}

// ManualEntry is a presenter-entered attendance record.
type ManualEntry struct {
	SessionID     string `json:"sessionId"`
	StudentName   string `json:"studentName"`
	StudentNumber string `json:"studentNumber"`
}

// Client calls the remote attendance service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out struct {
		envelope
		Token   string        `json:"token"`
		Teacher model.Teacher `json:"teacher"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", in, &out, &out.envelope, true, MsgLoginFailed); err != nil {
		return LoginResult{}, err
	}
	if out.Token == "" {
		return LoginResult{}, &ServiceError{Op: "login", Status: http.StatusOK, Message: MsgLoginFailed}
	}
	return LoginResult{Token: out.Token, Teacher: out.Teacher}, nil
}

// CreateSession starts a new attendance window lasting the given minutes.
func (c *Client) CreateSession(ctx context.Context, token string, minutes float64) (model.Session, error) {
	var out struct {
		envelope
		SessionID string `json:"sessionId"`
		QRDataURL string `json:"qrDataUrl"`
		ExpiresAt string `json:"expiresAt"`
	}
	in := map[string]float64{"durationMinutes": minutes}
	// The service omits success on some successful creates; only an explicit false fails.
	if err := c.do(ctx, http.MethodPost, "/api/sessions", token, in, &out, &out.envelope, false, MsgCreateFailed); err != nil {
		return model.Session{}, err
	}
	if out.SessionID == "" {
		return model.Session{}, &ServiceError{Op: "sessions", Status: http.StatusOK, Message: messageOr(out.Message, MsgCreateFailed)}
	}
	expiresAt := parseTime(out.ExpiresAt)
	if expiresAt.IsZero() {
		// without a deadline the countdown could never reach EXPIRED
		return model.Session{}, &ServiceError{Op: "sessions", Status: http.StatusOK, Message: MsgCreateFailed}
	}
	return model.Session{
		ID:        out.SessionID,
		ExpiresAt: expiresAt,
		CodeImage: out.QRDataURL,
	}, nil
}

// ListAttendance fetches the full roster of a session.
func (c *Client) ListAttendance(ctx context.Context, token, sessionID string) ([]model.Record, error) {
	var out struct {
		envelope
		Items []wireRecord `json:"items"`
	}
	path := "/api/attend/list?session=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out, &out.envelope, true, MsgListFailed); err != nil {
		return nil, err
	}
	records := make([]model.Record, 0, len(out.Items))
	for _, it := range out.Items {
		records = append(records, it.record())
	}
	return records, nil
}

// AddManual records a presenter-entered attendance entry.
func (c *Client) AddManual(ctx context.Context, token string, entry ManualEntry) error {
	var out envelope
	return c.do(ctx, http.MethodPost, "/api/attend/manual", token, entry, &out, &out, true, MsgManualFailed)
}

// Health checks if the attendance service is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("attendance service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("attendance service unhealthy: %s", resp.Status)
	}
	return nil
}

// do performs a JSON round trip. strict requires success=true in the body;
// otherwise only an explicit success=false is treated as failure.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any, env *envelope, strict bool, fallback string) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("attendance service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, out)

	op, _, _ := strings.Cut(strings.TrimPrefix(path, "/api/"), "?")
	if resp.StatusCode >= 300 {
		return &ServiceError{Op: op, Status: resp.StatusCode, Message: messageOr(env.Message, fallback)}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if (env.Success != nil && !*env.Success) || (strict && env.Success == nil) {
		return &ServiceError{Op: op, Status: resp.StatusCode, Message: messageOr(env.Message, fallback)}
	}
	return nil
}

func messageOr(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}

type wireRecord struct {
	StudentName   string `json:"studentName"`
	StudentNumber string `json:"studentNumber"`
	AttendedAt    string `json:"attendedAt"`
	SessionID     string `json:"sessionId"`
	DeviceID      string `json:"deviceId"`
}

func (w wireRecord) record() model.Record {
	return model.Record{
		StudentName:   w.StudentName,
		StudentNumber: w.StudentNumber,
		AttendedAt:    parseTime(w.AttendedAt),
		SessionID:     w.SessionID,
		DeviceID:      w.DeviceID,
	}
}

// parseTime accepts the ISO timestamps the service emits; anything else is zero.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
