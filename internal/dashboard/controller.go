package dashboard

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rollcall/internal/audit"
	"rollcall/internal/countdown"
	"rollcall/internal/export"
	"rollcall/internal/metrics"
	"rollcall/internal/model"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

// Service is the remote attendance API as the controller uses it.
type Service interface {
	Login(ctx context.Context, username, password string) (remote.LoginResult, error)
	CreateSession(ctx context.Context, token string, minutes float64) (model.Session, error)
	ListAttendance(ctx context.Context, token, sessionID string) ([]model.Record, error)
	AddManual(ctx context.Context, token string, entry remote.ManualEntry) error
}

// Recorder receives dashboard activity.
type Recorder interface {
	Record(ctx context.Context, evt audit.Event)
}

// Options configures a Controller. Zero values use the package defaults.
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
	Localizer    roster.Localizer
	Now          func() time.Time
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Audit        Recorder
}

// SessionView is the active session as rendered.
type SessionView struct {
	ID               string    `json:"id"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresAtDisplay string    `json:"expiresAtDisplay"`
	CodeImage        string    `json:"codeImage"`
}

// Snapshot is a read-only copy of the dashboard state.
type Snapshot struct {
	LoggedIn  bool                `json:"loggedIn"`
	Teacher   *model.Teacher      `json:"teacher,omitempty"`
	Presenter string              `json:"presenter"`
	Course    string              `json:"course"`
	Session   *SessionView        `json:"session,omitempty"`
	Countdown string              `json:"countdown"`
	Expired   bool                `json:"expired"`
	Roster    []roster.ViewRecord `json:"roster"`
	Creating  bool                `json:"creating"`
	Loading   bool                `json:"loading"`
	Error     string              `json:"error,omitempty"`
}

// Export is a generated spreadsheet.
type Export struct {
	Filename string
	Data     []byte
	Records  int
}

// tasks are the countdown and poller goroutines of one session.
type tasks struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	poller *roster.Poller
}

func (t *tasks) stop() {
	if t == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
}

// Controller owns one teacher's dashboard state: login, active session,
// countdown text and roster snapshot. All mutation goes through its methods;
// background results are applied only while their session is still current.
type Controller struct {
	svc  Service
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	token     string
	teacher   *model.Teacher
	course    string
	session   model.Session
	countdown string
	roster    []roster.ViewRecord
	creating  bool
	loading   bool
	errMsg    string
	gen       uint64
	tasks     *tasks
}

// NewController creates a logged-out controller.
func NewController(svc Service, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = roster.DefaultInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = countdown.DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		svc:    svc,
		opts:   opts,
		log:    opts.Logger,
		course: export.DefaultCourse,
		roster: []roster.ViewRecord{},
	}
}

// Login authenticates against the attendance service.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	res, err := c.svc.Login(ctx, username, password)
	if err != nil {
		c.mu.Lock()
		c.errMsg = DisplayMessage(err)
		c.mu.Unlock()
		c.log.Info("login failed", zap.String("username", username), zap.Error(err))
		return err
	}
	c.Restore(res.Token, res.Teacher)
	return nil
}

// Restore installs a previously obtained credential without calling the
// service, dropping any session in progress.
func (c *Controller) Restore(token string, teacher model.Teacher) {
	c.mu.Lock()
	c.gen++
	old := c.tasks
	c.resetLocked()
	c.token = token
	c.teacher = &teacher
	c.mu.Unlock()
	old.stop()
}

// Token returns the bearer credential, or "" when logged out.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Logout cancels both background tasks and clears all state.
func (c *Controller) Logout() {
	c.mu.Lock()
	c.gen++
	old := c.tasks
	c.resetLocked()
	c.mu.Unlock()
	old.stop()
}

// Close tears the controller down. It is equivalent to Logout.
func (c *Controller) Close() { c.Logout() }

func (c *Controller) resetLocked() {
	c.tasks = nil
	c.token = ""
	c.teacher = nil
	c.course = export.DefaultCourse
	c.clearSessionLocked()
	c.errMsg = ""
}

func (c *Controller) clearSessionLocked() {
	c.session = model.Session{}
	c.countdown = ""
	c.roster = []roster.ViewRecord{}
	c.creating = false
	c.loading = false
}

// SetCourse sets the course label used in exports.
func (c *Controller) SetCourse(name string) {
	c.mu.Lock()
	c.course = name
	c.mu.Unlock()
}

// StartSession creates a new attendance session lasting durationInput
// minutes. Any current session is dropped first. A non-empty course also
// updates the course label.
func (c *Controller) StartSession(ctx context.Context, durationInput, course string) error {
	minutes, verr := ParseDuration(durationInput)

	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	c.gen++
	gen := c.gen
	old := c.tasks
	c.tasks = nil
	c.clearSessionLocked()
	c.errMsg = ""
	if course != "" {
		c.course = course
	}
	if verr != nil {
		c.errMsg = DisplayMessage(verr)
		c.mu.Unlock()
		old.stop()
		return verr
	}
	c.creating = true
	token := c.token
	c.mu.Unlock()
	old.stop()

	sess, err := c.svc.CreateSession(ctx, token, minutes)
	c.opts.Metrics.SessionStarted(err)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.opts.Metrics.Stale("session")
		c.log.Debug("discarding superseded session response", zap.String("session_id", sess.ID))
		return ErrSuperseded
	}
	c.creating = false
	if err != nil {
		c.errMsg = DisplayMessage(err)
		c.mu.Unlock()
		c.log.Warn("create session failed", zap.Error(err))
		return err
	}
	c.session = sess
	c.countdown = countdown.Format(sess.ExpiresAt, c.opts.Now())
	c.startTasksLocked(gen, token, sess)
	evt := audit.Event{
		Kind:      audit.KindSessionStarted,
		Teacher:   c.teacher.DisplayName(),
		SessionID: sess.ID,
		Course:    c.course,
		Detail:    durationInput,
	}
	c.mu.Unlock()

	c.log.Info("session started", zap.String("session_id", sess.ID), zap.Time("expires_at", sess.ExpiresAt))
	c.record(ctx, evt)
	return nil
}

// startTasksLocked launches the countdown and the roster poller for sess.
// Both stop when the session is replaced or the controller logs out.
func (c *Controller) startTasksLocked(gen uint64, token string, sess model.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &tasks{cancel: cancel}
	t.poller = roster.NewPoller(sess.ID, c.opts.PollInterval, c.fetcher(gen, token), c.applyRoster(gen), c.log)
	t.poller.Bind(ctx)

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		countdown.Run(ctx, sess.ExpiresAt, countdown.Options{Interval: c.opts.TickInterval, Now: c.opts.Now}, func(text string) {
			c.applyCountdown(gen, sess.ID, text)
		})
	}()
	go func() {
		defer t.wg.Done()
		t.poller.Run(ctx)
	}()
	c.tasks = t
}

func (c *Controller) current(gen uint64, sessionID string) bool {
	return c.gen == gen && c.session.ID == sessionID
}

func (c *Controller) fetcher(gen uint64, token string) roster.FetchFunc {
	return func(ctx context.Context, sessionID string) ([]model.Record, error) {
		c.setLoading(gen, sessionID, true)
		records, err := c.svc.ListAttendance(ctx, token, sessionID)
		c.setLoading(gen, sessionID, false)
		if ctx.Err() == nil {
			c.opts.Metrics.Poll(err)
		}
		return records, err
	}
}

func (c *Controller) setLoading(gen uint64, sessionID string, v bool) {
	c.mu.Lock()
	if c.current(gen, sessionID) {
		c.loading = v
	}
	c.mu.Unlock()
}

func (c *Controller) applyRoster(gen uint64) roster.ApplyFunc {
	return func(sessionID string, records []model.Record) {
		derived := roster.Derive(records, c.opts.Localizer)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.current(gen, sessionID) {
			c.opts.Metrics.Stale("roster")
			c.log.Debug("discarding stale roster", zap.String("session_id", sessionID))
			return
		}
		c.roster = derived
	}
}

func (c *Controller) applyCountdown(gen uint64, sessionID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(gen, sessionID) {
		c.countdown = text
	}
}

// AddManual records a presenter-entered attendance entry and refreshes the
// roster right away. Blank inputs are rejected without a network call.
func (c *Controller) AddManual(ctx context.Context, name, number string) error {
	if err := roster.ValidateManualEntry(name, number); err != nil {
		return err
	}

	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	if !c.session.Active() || c.tasks == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	token := c.token
	sess := c.session
	poller := c.tasks.poller
	evt := audit.Event{
		Kind:      audit.KindManualEntry,
		Teacher:   c.teacher.DisplayName(),
		SessionID: sess.ID,
		Course:    c.course,
		Detail:    number,
	}
	c.mu.Unlock()

	err := c.svc.AddManual(ctx, token, remote.ManualEntry{
		SessionID:     sess.ID,
		StudentName:   name,
		StudentNumber: number,
	})
	c.opts.Metrics.ManualEntry(err)
	if err != nil {
		c.log.Info("manual entry rejected", zap.String("session_id", sess.ID), zap.Error(err))
		return err
	}

	c.record(ctx, evt)
	_ = poller.Refresh(ctx)
	return nil
}

// Refresh fetches the roster out of cycle.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.tasks == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	poller := c.tasks.poller
	c.mu.Unlock()
	return poller.Refresh(ctx)
}

// Export renders the current roster as a spreadsheet generated at now.
func (c *Controller) Export(ctx context.Context, now time.Time) (Export, error) {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return Export{}, ErrNotLoggedIn
	}
	records := c.roster
	meta := export.Meta{
		Course:      c.course,
		Presenter:   c.teacher.DisplayName(),
		GeneratedAt: now,
		Localizer:   c.opts.Localizer,
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	var buf bytes.Buffer
	if err := export.Write(&buf, meta, records); err != nil {
		return Export{}, err
	}
	out := Export{
		Filename: export.Filename(meta.Course, now),
		Data:     buf.Bytes(),
		Records:  len(records),
	}
	c.opts.Metrics.Exported()
	c.record(ctx, audit.Event{
		Kind:      audit.KindExport,
		Teacher:   meta.Presenter,
		SessionID: sessionID,
		Course:    meta.Course,
		Detail:    out.Filename,
	})
	return out, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		LoggedIn:  c.token != "",
		Course:    c.course,
		Countdown: c.countdown,
		Expired:   c.countdown == countdown.Expired,
		Roster:    append([]roster.ViewRecord(nil), c.roster...),
		Creating:  c.creating,
		Loading:   c.loading,
		Error:     c.errMsg,
	}
	if s.Roster == nil {
		s.Roster = []roster.ViewRecord{}
	}
	if c.teacher != nil {
		t := *c.teacher
		s.Teacher = &t
		s.Presenter = t.DisplayName()
	}
	if c.session.Active() {
		s.Session = &SessionView{
			ID:               c.session.ID,
			ExpiresAt:        c.session.ExpiresAt,
			ExpiresAtDisplay: c.opts.Localizer.Format(c.session.ExpiresAt),
			CodeImage:        c.session.CodeImage,
		}
	}
	return s
}

func (c *Controller) record(ctx context.Context, evt audit.Event) {
	if c.opts.Audit == nil {
		return
	}
	c.opts.Audit.Record(ctx, evt)
}
