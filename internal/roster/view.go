package roster

import (
	"strings"
	"time"

	"rollcall/internal/model"
)

// Source labels shown next to each record.
const (
	SourceManual = "Manual"
	SourceCode   = "Code"
)

// DefaultLayout renders timestamps day-first with seconds.
const DefaultLayout = "02.01.2006 15:04:05"

// ViewRecord is a record plus its presentation-only fields.
type ViewRecord struct {
	model.Record
	Source      string `json:"source"`
	DisplayTime string `json:"displayTime"`
}

// Localizer formats absolute timestamps for display.
type Localizer struct {
	Location *time.Location
	Layout   string
}

// Format renders t in the configured zone and layout; zero renders as "-".
func (l Localizer) Format(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}
	layout := l.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	return t.In(loc).Format(layout)
}

// SourceLabel maps an origin device id to its display label.
func SourceLabel(deviceID string) string {
	if deviceID == model.ManualEntryDevice {
		return SourceManual
	}
	return SourceCode
}

// Derive builds the rendered roster from a fetched batch. It never mutates
// the input and always returns a fresh slice.
func Derive(records []model.Record, loc Localizer) []ViewRecord {
	out := make([]ViewRecord, len(records))
	for i, r := range records {
		out[i] = ViewRecord{
			Record:      r,
			Source:      SourceLabel(r.DeviceID),
			DisplayTime: loc.Format(r.AttendedAt),
		}
	}
	return out
}

// ValidateManualEntry rejects blank names or numbers.
func ValidateManualEntry(name, number string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(number) == "" {
		field := "studentName"
		if strings.TrimSpace(name) != "" {
			field = "studentNumber"
		}
		return &model.ValidationError{Field: field, Message: "Please fill in both name and student number"}
	}
	return nil
}
