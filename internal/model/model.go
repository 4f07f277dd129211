package model

import "time"

// ManualEntryDevice is the device id the attendance service stores for
// records added by the presenter instead of via the check-in code.
const ManualEntryDevice = "manual-entry"

// Teacher is the identity returned by a successful login.
type Teacher struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// DisplayName picks the presenter name shown on the dashboard and in exports.
func (t *Teacher) DisplayName() string {
	switch {
	case t == nil:
		return "Teacher"
	case t.Name != "":
		return t.Name
	case t.Username != "":
		return t.Username
	default:
		return "Teacher"
	}
}

// Session is an attendance window created on the remote service.
type Session struct {
	ID        string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CodeImage string    `json:"qrDataUrl"` // data URL, rendered as-is
}

// Active reports whether a session has been installed.
func (s Session) Active() bool { return s.ID != "" }

// Record is a single attendance entry as owned by the remote service.
type Record struct {
	StudentName   string    `json:"studentName"`
	StudentNumber string    `json:"studentNumber"`
	AttendedAt    time.Time `json:"attendedAt"`
	SessionID     string    `json:"sessionId"`
	DeviceID      string    `json:"deviceId"`
}

// Manual reports whether the record was entered by the presenter.
func (r Record) Manual() bool { return r.DeviceID == ManualEntryDevice }
