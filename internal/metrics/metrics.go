package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dashboard collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RosterPolls      *prometheus.CounterVec
	SessionsStarted  *prometheus.CounterVec
	ManualEntries    *prometheus.CounterVec
	Exports          prometheus.Counter
	ActiveDashboards prometheus.Gauge
	StaleResponses   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RosterPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "roster_polls_total",
			Help:      "Roster fetches by result.",
		}, []string{"result"}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "sessions_started_total",
			Help:      "Attendance session create attempts by result.",
		}, []string{"result"}),
		ManualEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "manual_entries_total",
			Help:      "Manual attendance entries by result.",
		}, []string{"result"}),
		Exports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "exports_total",
			Help:      "Spreadsheet exports generated.",
		}),
		ActiveDashboards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Name:      "active_dashboards",
			Help:      "Logged-in dashboards held in memory.",
		}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Name:      "stale_responses_total",
			Help:      "Responses dropped because their session was no longer active.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.RosterPolls, m.SessionsStarted, m.ManualEntries, m.Exports, m.ActiveDashboards, m.StaleResponses)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Poll records a roster fetch outcome.
func (m *Metrics) Poll(err error) {
	if m == nil {
		return
	}
	m.RosterPolls.WithLabelValues(result(err)).Inc()
}

// SessionStarted records a session create outcome.
func (m *Metrics) SessionStarted(err error) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(result(err)).Inc()
}

// ManualEntry records a manual-add outcome.
func (m *Metrics) ManualEntry(err error) {
	if m == nil {
		return
	}
	m.ManualEntries.WithLabelValues(result(err)).Inc()
}

// Exported counts a generated spreadsheet.
func (m *Metrics) Exported() {
	if m == nil {
		return
	}
	m.Exports.Inc()
}

// Stale counts a dropped out-of-date response of the given kind.
func (m *Metrics) Stale(kind string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(kind).Inc()
}

// DashboardOpened and DashboardClosed track logged-in dashboards.
func (m *Metrics) DashboardOpened() {
	if m == nil {
		return
	}
	m.ActiveDashboards.Inc()
}

func (m *Metrics) DashboardClosed() {
	if m == nil {
		return
	}
	m.ActiveDashboards.Dec()
}
