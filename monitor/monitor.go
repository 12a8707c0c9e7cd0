// Package monitor keeps the teacher's live view of an attendance
// session consistent with server state: who is still unmarked, how
// much time remains, and whether the session has expired.
package monitor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arisehq/live-monitor/sched"
	"github.com/arisehq/live-monitor/state"
	"github.com/arisehq/live-monitor/types"
)

const (
	DefaultStatusInterval   = 5 * time.Second
	DefaultDeviceInterval   = 5 * time.Second
	DefaultTickInterval     = time.Second
	DefaultRetryBackoff     = 10 * time.Second
	DefaultExtensionMinutes = 10

	countdownExpired = "Expired"
	dangerThreshold  = 5 * time.Minute

	noticeAutoExpired = "Session has automatically ended due to time expiration."
	noticeEnded       = "Session ended."
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionExpired  = errors.New("session has already expired")
)

// State is the monitor's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateConfirmingExpiry
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateConfirmingExpiry:
		return "confirming-expiry"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

// Backend is the slice of the REST client the monitor needs.
type Backend interface {
	ValidateSession(courseID int64) (*types.ValidateSessionResponse, error)
	SessionStatus(sessionID int64) (*types.StatusResponse, error)
	DeviceStatus() (*types.DeviceStatusResponse, error)
	CheckExpire(sessionID int64) (*types.CheckExpireResponse, error)
	ExtendSession(sessionID int64, minutes int) (*types.ExtendSessionResponse, error)
	EndSession(sessionID int64) error
	Report(sessionID int64) (*types.ReportResponse, error)
}

// Archive records samples for later review. Implementations must
// tolerate being called from multiple goroutines.
type Archive interface {
	RecordSession(h types.SessionHandle, status string) error
	RecordAttendanceSample(sessionID int64, marked, total int) error
	RecordDeviceSample(v types.DeviceView) error
}

// Snapshot is the renderer-facing view of the monitor.
type Snapshot struct {
	State            string                `json:"state"`
	SessionID        int64                 `json:"session_id,omitempty"`
	CourseID         int64                 `json:"course_id,omitempty"`
	Countdown        string                `json:"countdown"`
	CountdownDanger  bool                  `json:"countdown_danger"`
	MarkedCount      int                   `json:"marked_count"`
	TotalStudents    int                   `json:"total_students"`
	UnmarkedStudents []types.Student       `json:"unmarked_students"`
	Device           types.DeviceView      `json:"device"`
	Notice           string                `json:"notice,omitempty"`
	Report           *types.ReportResponse `json:"report,omitempty"`
}

// Options configures a Monitor. Zero values select production
// defaults.
type Options struct {
	Clock     sched.Clock
	Scheduler sched.Scheduler
	Store     *state.Store
	Archive   Archive

	StatusInterval time.Duration
	DeviceInterval time.Duration
	TickInterval   time.Duration
	RetryBackoff   time.Duration
}

// Monitor drives one live session at a time. All mutable state is
// guarded by mu; the three timers and in-flight HTTP callbacks
// re-check the state after every blocking call, so a late response
// arriving after Stop or finalization is a no-op.
type Monitor struct {
	backend   Backend
	clock     sched.Clock
	scheduler sched.Scheduler
	store     *state.Store
	archive   Archive

	statusInterval time.Duration
	deviceInterval time.Duration
	tickInterval   time.Duration
	retryBackoff   time.Duration

	mu              sync.Mutex
	state           State
	session         types.SessionHandle
	roster          types.Roster
	markedCount     int
	unmarked        []types.Student
	device          types.DeviceView
	countdownText   string
	countdownDanger bool
	notice          string
	report          *types.ReportResponse
	stats           types.MonitorStats

	statusTask    sched.Task
	deviceTask    sched.Task
	countdownTask sched.Task
	retryTask     sched.Task

	subs []chan Snapshot
}

func New(b Backend, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = sched.SystemClock{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.NewTickerScheduler()
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.DeviceInterval == 0 {
		opts.DeviceInterval = DefaultDeviceInterval
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}

	return &Monitor{
		backend:        b,
		clock:          opts.Clock,
		scheduler:      opts.Scheduler,
		store:          opts.Store,
		archive:        opts.Archive,
		statusInterval: opts.StatusInterval,
		deviceInterval: opts.DeviceInterval,
		tickInterval:   opts.TickInterval,
		retryBackoff:   opts.RetryBackoff,
		state:          StateIdle,
		countdownText:  "--:--",
		device:         types.DeviceView{State: "unknown", Message: "Waiting for device..."},
		stats: types.MonitorStats{
			RunID:     uuid.NewString(),
			StartTime: opts.Clock.Now(),
		},
	}
}

// Start begins monitoring a session: one status poll, one device poll
// and a one-second countdown. Calling Start while already running
// stops the previous timers first, so there is never more than one of
// each.
func (m *Monitor) Start(session types.SessionHandle, roster types.Roster) {
	m.mu.Lock()
	m.stopTasksLocked()
	m.state = StateRunning
	session.Active = true
	m.session = session
	m.roster = roster
	m.markedCount = 0
	m.unmarked = append([]types.Student(nil), roster...)
	m.device = types.DeviceView{State: "unknown", Message: "Waiting for device..."}
	m.notice = ""
	m.report = nil
	m.stats.SessionsStarted++
	m.updateCountdownLocked(m.clock.Now())
	m.mu.Unlock()

	log.Printf("Live monitor started - session %d, %d students, ends %s",
		session.SessionID, len(roster), session.EndTime.Format("15:04:05"))

	m.persistSession()
	if m.archive != nil {
		if err := m.archive.RecordSession(session, "active"); err != nil {
			log.Printf("archive: %v", err)
		}
	}

	// Immediate first samples, the repeating timers take over after.
	m.pollStatus()
	m.pollDevice()

	m.mu.Lock()
	if m.state == StateRunning {
		m.statusTask = m.scheduler.Every(m.statusInterval, m.pollStatus)
		m.deviceTask = m.scheduler.Every(m.deviceInterval, m.pollDevice)
		m.countdownTask = m.scheduler.Every(m.tickInterval, m.tick)
	}
	m.mu.Unlock()
	m.notify()
}

// Resume re-validates a persisted session against the server. If the
// server still reports it active the monitor starts; otherwise the
// persisted blob is cleared and no timers run.
func (m *Monitor) Resume(p *state.Persisted) error {
	if p == nil || p.SessionID == 0 {
		return ErrNoActiveSession
	}

	resp, err := m.backend.ValidateSession(p.CourseID)
	if err != nil {
		return fmt.Errorf("session validation failed: %v", err)
	}
	if !resp.Valid || !resp.HasActiveSession || resp.ActiveSession == nil {
		log.Printf("Persisted session %d is no longer active, clearing resume state", p.SessionID)
		if m.store != nil {
			if err := m.store.Clear(); err != nil {
				log.Printf("Error clearing resume state: %v", err)
			}
		}
		return ErrNoActiveSession
	}

	endTime, err := types.ParseServerTime(resp.ActiveSession.EndTime)
	if err != nil {
		return err
	}

	handle := types.SessionHandle{
		CourseID:  p.CourseID,
		SessionID: resp.ActiveSession.ID,
		EndTime:   endTime,
		Active:    true,
	}
	m.Start(handle, types.Roster(resp.Students))
	log.Printf("Resumed active session %d with %d students", handle.SessionID, len(resp.Students))
	return nil
}

// Extend asks the server for more time. It is rejected locally once
// the countdown has shown Expired; the UI has already begun its expiry
// transition at that point and the server is not consulted.
func (m *Monitor) Extend(minutes int) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return ErrNoActiveSession
	case StateRunning:
	default:
		m.mu.Unlock()
		return ErrSessionExpired
	}
	sessionID := m.session.SessionID
	m.mu.Unlock()

	if minutes <= 0 {
		minutes = DefaultExtensionMinutes
	}

	resp, err := m.backend.ExtendSession(sessionID, minutes)
	if err != nil {
		return err
	}
	newEnd, err := types.ParseServerTime(resp.NewEndTime)
	if err != nil {
		return fmt.Errorf("extension applied but new end time unreadable: %v", err)
	}

	m.mu.Lock()
	if m.state == StateRunning {
		m.session.EndTime = newEnd
		m.updateCountdownLocked(m.clock.Now())
	}
	m.mu.Unlock()

	m.persistSession()
	m.notify()
	log.Printf("Session %d extended, new end time %s", sessionID, newEnd.Format("15:04:05"))
	return nil
}

// End closes the session explicitly and finalizes.
func (m *Monitor) End() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if m.state == StateFinalized {
		m.mu.Unlock()
		return nil
	}
	sessionID := m.session.SessionID
	m.beginFinalizeLocked(noticeEnded)
	m.mu.Unlock()

	if err := m.backend.EndSession(sessionID); err != nil {
		log.Printf("Error ending session %d on server: %v", sessionID, err)
	}
	m.completeFinalize(sessionID)
	return nil
}

// Stop cancels all timers. Safe to call any number of times; a
// running session handle is abandoned, so late callbacks become
// no-ops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopTasksLocked()
	if m.state != StateFinalized {
		m.state = StateIdle
	}
	m.mu.Unlock()
}

// Snapshot returns the current renderer-facing view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Stats returns a copy of the run counters.
func (m *Monitor) Stats() types.MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Subscribe returns a channel receiving each new snapshot and a cancel
// function. Slow receivers miss intermediate snapshots rather than
// blocking the monitor.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 8)
	m.subs = append(m.subs, ch)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// pollStatus fetches the marked-student list. A server-reported
// inactive session is authoritative expiry and finalizes immediately;
// a transport failure keeps the previous view.
func (m *Monitor) pollStatus() {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateConfirmingExpiry {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.SessionID
	m.mu.Unlock()

	resp, err := m.backend.SessionStatus(sessionID)

	m.mu.Lock()
	if m.state != StateRunning && m.state != StateConfirmingExpiry {
		// Finalized or stopped while the request was in flight.
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.stats.StatusFailures++
		m.mu.Unlock()
		log.Printf("Status poll failed, keeping previous view: %v", err)
		return
	}
	m.stats.StatusPolls++
	m.stats.LastStatusPoll = m.clock.Now()

	if !resp.Active() {
		m.beginFinalizeLocked(noticeAutoExpired)
		m.mu.Unlock()
		log.Printf("Session %d reported inactive by server, finalizing", sessionID)
		m.completeFinalize(sessionID)
		return
	}

	if len(m.roster) == 0 && len(resp.AllStudents) > 0 {
		m.roster = types.Roster(resp.AllStudents)
	}
	marked := types.NewRollSet(resp.MarkedStudents)
	m.unmarked = m.roster.Unmarked(marked)
	m.markedCount = len(marked)
	total := len(m.roster)
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.RecordAttendanceSample(sessionID, len(marked), total); err != nil {
			log.Printf("archive: %v", err)
		}
	}
	m.notify()
}

// pollDevice fetches and classifies the scanner heartbeat. Purely
// presentational; it never touches countdown or expiry state.
func (m *Monitor) pollDevice() {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateConfirmingExpiry {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	resp, err := m.backend.DeviceStatus()
	view := ClassifyDevice(resp, err)

	m.mu.Lock()
	if m.state != StateRunning && m.state != StateConfirmingExpiry {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.stats.DeviceFailures++
	} else {
		m.stats.DevicePolls++
	}
	m.device = view
	m.mu.Unlock()

	if m.archive != nil && err == nil {
		if err := m.archive.RecordDeviceSample(view); err != nil {
			log.Printf("archive: %v", err)
		}
	}
	m.notify()
}

// tick advances the local countdown. Reaching zero is only the
// optimistic expiry signal; the server confirms before the monitor
// finalizes.
func (m *Monitor) tick() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.stats.CountdownTicks++
	now := m.clock.Now()
	if m.session.EndTime.After(now) {
		m.updateCountdownLocked(now)
		m.mu.Unlock()
		m.notify()
		return
	}

	m.state = StateConfirmingExpiry
	m.countdownText = countdownExpired
	m.countdownDanger = true
	if m.countdownTask != nil {
		m.countdownTask.Stop()
		m.countdownTask = nil
	}
	m.mu.Unlock()

	log.Println("Countdown reached 0:00, requesting expiry confirmation")
	m.notify()
	m.confirmExpiry()
}

// confirmExpiry asks the server whether the session really ended. A
// still-active answer (extension race, clock skew) or a failed request
// re-arms the check after a fixed backoff; a status poll observing the
// expiry directly supersedes the loop.
func (m *Monitor) confirmExpiry() {
	m.mu.Lock()
	if m.state != StateConfirmingExpiry {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.SessionID
	m.retryTask = nil
	m.mu.Unlock()

	resp, err := m.backend.CheckExpire(sessionID)

	m.mu.Lock()
	if m.state != StateConfirmingExpiry {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.stats.ExpiryRetries++
		m.retryTask = m.scheduler.After(m.retryBackoff, m.confirmExpiry)
		m.mu.Unlock()
		log.Printf("Error checking session expiry, retrying in %v: %v", m.retryBackoff, err)
		return
	}

	if resp.Expired {
		m.beginFinalizeLocked(noticeAutoExpired)
		m.mu.Unlock()
		log.Printf("Session %d confirmed expired by server", sessionID)
		m.completeFinalize(sessionID)
		return
	}

	if resp.Status == "active" {
		m.stats.ExpiryRetries++
		m.retryTask = m.scheduler.After(m.retryBackoff, m.confirmExpiry)
		m.mu.Unlock()
		log.Printf("Countdown expired but server reports %ds remaining, rechecking in %v",
			resp.SecondsRemaining, m.retryBackoff)
		return
	}

	// not_found or error: nothing to confirm against; leave it to the
	// status poll.
	m.mu.Unlock()
	log.Printf("Expiry check returned status %q for session %d", resp.Status, sessionID)
}

// beginFinalizeLocked performs the one-time transition into Finalized.
// Callers must hold mu. Returns false if already finalized.
func (m *Monitor) beginFinalizeLocked(notice string) bool {
	if m.state == StateFinalized {
		return false
	}
	m.state = StateFinalized
	m.session.Active = false
	m.notice = notice
	m.countdownText = countdownExpired
	m.countdownDanger = true
	m.stopTasksLocked()
	return true
}

// completeFinalize loads the post-session report and clears the
// persisted session. Called exactly once per finalization, outside mu.
func (m *Monitor) completeFinalize(sessionID int64) {
	rep, err := m.backend.Report(sessionID)
	if err != nil {
		log.Printf("Error loading post-session report: %v", err)
	} else {
		m.mu.Lock()
		m.report = rep
		m.mu.Unlock()
	}

	m.persistSession()
	if m.archive != nil {
		m.mu.Lock()
		h := m.session
		m.mu.Unlock()
		if err := m.archive.RecordSession(h, "ended"); err != nil {
			log.Printf("archive: %v", err)
		}
	}
	m.notify()
}

func (m *Monitor) stopTasksLocked() {
	for _, t := range []sched.Task{m.statusTask, m.deviceTask, m.countdownTask, m.retryTask} {
		if t != nil {
			t.Stop()
		}
	}
	m.statusTask = nil
	m.deviceTask = nil
	m.countdownTask = nil
	m.retryTask = nil
}

func (m *Monitor) updateCountdownLocked(now time.Time) {
	remaining := m.session.EndTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining / time.Second)
	m.countdownText = fmt.Sprintf("%d:%02d", total/60, total%60)
	m.countdownDanger = remaining < dangerThreshold
}

// persistSession mirrors the session half of the resume blob. A
// session that is no longer running must never be written back with
// its id and end time intact.
func (m *Monitor) persistSession() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	h := m.session
	st := m.state
	m.mu.Unlock()

	err := m.store.Update(func(p *state.Persisted) {
		if st == StateRunning || st == StateConfirmingExpiry {
			p.SessionID = h.SessionID
			p.SetEndTime(h.EndTime)
			p.CurrentHomeScreen = "live"
		} else {
			p.SessionID = 0
			p.SetEndTime(time.Time{})
			p.CurrentHomeScreen = "post-session"
		}
	})
	if err != nil {
		log.Printf("Error saving resume state: %v", err)
	}
}

func (m *Monitor) snapshotLocked() Snapshot {
	unmarked := append([]types.Student(nil), m.unmarked...)
	return Snapshot{
		State:            m.state.String(),
		SessionID:        m.session.SessionID,
		CourseID:         m.session.CourseID,
		Countdown:        m.countdownText,
		CountdownDanger:  m.countdownDanger,
		MarkedCount:      m.markedCount,
		TotalStudents:    len(m.roster),
		UnmarkedStudents: unmarked,
		Device:           m.device,
		Notice:           m.notice,
		Report:           m.report,
	}
}

func (m *Monitor) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	m.mu.Unlock()
}
