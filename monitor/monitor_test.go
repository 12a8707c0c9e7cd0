package monitor

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arisehq/live-monitor/sched"
	"github.com/arisehq/live-monitor/state"
	"github.com/arisehq/live-monitor/types"
)

var testBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)

func boolPtr(b bool) *bool { return &b }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTask struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTask) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTask) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type scheduledTask struct {
	interval time.Duration
	fn       func()
	task     *fakeTask
	oneShot  bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*scheduledTask
}

func (s *fakeScheduler) Every(interval time.Duration, fn func()) sched.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &scheduledTask{interval: interval, fn: fn, task: &fakeTask{}}
	s.tasks = append(s.tasks, st)
	return st.task
}

func (s *fakeScheduler) After(delay time.Duration, fn func()) sched.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &scheduledTask{interval: delay, fn: fn, task: &fakeTask{}, oneShot: true}
	s.tasks = append(s.tasks, st)
	return st.task
}

// activeRepeating returns scheduled repeating tasks not yet stopped.
func (s *fakeScheduler) activeRepeating() []*scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scheduledTask
	for _, st := range s.tasks {
		if !st.oneShot && !st.task.isStopped() {
			out = append(out, st)
		}
	}
	return out
}

func (s *fakeScheduler) pendingOneShots() []*scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scheduledTask
	for _, st := range s.tasks {
		if st.oneShot && !st.task.isStopped() {
			out = append(out, st)
		}
	}
	return out
}

type fakeBackend struct {
	mu sync.Mutex

	status      *types.StatusResponse
	statusErr   error
	device      *types.DeviceStatusResponse
	deviceErr   error
	expire      *types.CheckExpireResponse
	expireErr   error
	extend      *types.ExtendSessionResponse
	extendErr   error
	validate    *types.ValidateSessionResponse
	validateErr error
	report      *types.ReportResponse
	endErr      error

	statusCalls, deviceCalls, expireCalls int
	extendCalls, endCalls, reportCalls    int
	validateCalls                         int
}

func (b *fakeBackend) ValidateSession(courseID int64) (*types.ValidateSessionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validateCalls++
	return b.validate, b.validateErr
}

func (b *fakeBackend) SessionStatus(sessionID int64) (*types.StatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	return b.status, b.statusErr
}

func (b *fakeBackend) DeviceStatus() (*types.DeviceStatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deviceCalls++
	return b.device, b.deviceErr
}

func (b *fakeBackend) CheckExpire(sessionID int64) (*types.CheckExpireResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireCalls++
	return b.expire, b.expireErr
}

func (b *fakeBackend) ExtendSession(sessionID int64, minutes int) (*types.ExtendSessionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extendCalls++
	return b.extend, b.extendErr
}

func (b *fakeBackend) EndSession(sessionID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endCalls++
	return b.endErr
}

func (b *fakeBackend) Report(sessionID int64) (*types.ReportResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reportCalls++
	if b.report != nil {
		return b.report, nil
	}
	return &types.ReportResponse{}, nil
}

func (b *fakeBackend) calls(which string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch which {
	case "status":
		return b.statusCalls
	case "expire":
		return b.expireCalls
	case "extend":
		return b.extendCalls
	case "end":
		return b.endCalls
	case "report":
		return b.reportCalls
	}
	return 0
}

func (b *fakeBackend) set(fn func(*fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func testRoster() types.Roster {
	return types.Roster{
		{ID: 1, ClassRollID: 1, StudentName: "Aditi Sharma", UniversityRollNo: "2241001"},
		{ID: 2, ClassRollID: 2, StudentName: "Rohan Gupta", UniversityRollNo: "2241002"},
		{ID: 3, ClassRollID: 3, StudentName: "Priya Nair", UniversityRollNo: "2241003"},
	}
}

func testHandle(ttl time.Duration) types.SessionHandle {
	return types.SessionHandle{
		CourseID:  42,
		SessionID: 7,
		EndTime:   testBase.Add(ttl),
		Active:    true,
	}
}

func newTestMonitor(b *fakeBackend, store *state.Store) (*Monitor, *fakeClock, *fakeScheduler) {
	if b.status == nil {
		b.status = &types.StatusResponse{SessionActive: boolPtr(true), MarkedStudents: []string{}}
	}
	if b.device == nil {
		b.device = &types.DeviceStatusResponse{Status: "online"}
	}
	clock := &fakeClock{now: testBase}
	scheduler := &fakeScheduler{}
	m := New(b, Options{Clock: clock, Scheduler: scheduler, Store: store})
	return m, clock, scheduler
}

func TestStartSchedulesThreeTimers(t *testing.T) {
	b := &fakeBackend{}
	m, _, s := newTestMonitor(b, nil)

	m.Start(testHandle(10*time.Minute), testRoster())

	if got := len(s.activeRepeating()); got != 3 {
		t.Fatalf("active timers after Start = %d, want 3", got)
	}
}

func TestStartTwiceLeavesNoDuplicateTimers(t *testing.T) {
	b := &fakeBackend{}
	m, _, s := newTestMonitor(b, nil)

	m.Start(testHandle(10*time.Minute), testRoster())
	m.Start(testHandle(10*time.Minute), testRoster())

	if got := len(s.activeRepeating()); got != 3 {
		t.Fatalf("active timers after restart = %d, want 3", got)
	}
	s.mu.Lock()
	total := len(s.tasks)
	s.mu.Unlock()
	if total != 6 {
		t.Fatalf("total scheduled tasks = %d, want 6 (3 stopped + 3 live)", total)
	}
}

func TestPollStatusComputesUnmarked(t *testing.T) {
	b := &fakeBackend{
		status: &types.StatusResponse{
			SessionActive:  boolPtr(true),
			MarkedStudents: []string{"2241002"},
		},
	}
	m, _, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	snap := m.Snapshot()
	if snap.MarkedCount != 1 {
		t.Errorf("marked count = %d, want 1", snap.MarkedCount)
	}
	if snap.TotalStudents != 3 {
		t.Errorf("total students = %d, want 3", snap.TotalStudents)
	}
	if len(snap.UnmarkedStudents) != 2 {
		t.Fatalf("unmarked = %d students, want 2", len(snap.UnmarkedStudents))
	}
	if snap.UnmarkedStudents[0].UniversityRollNo != "2241001" ||
		snap.UnmarkedStudents[1].UniversityRollNo != "2241003" {
		t.Errorf("unmarked order = %s, %s; want roster order 2241001, 2241003",
			snap.UnmarkedStudents[0].UniversityRollNo, snap.UnmarkedStudents[1].UniversityRollNo)
	}
}

func TestPollStatusBackfillsEmptyRoster(t *testing.T) {
	b := &fakeBackend{
		status: &types.StatusResponse{
			SessionActive:  boolPtr(true),
			MarkedStudents: []string{},
			AllStudents:    testRoster(),
		},
	}
	m, _, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), nil)

	if got := m.Snapshot().TotalStudents; got != 3 {
		t.Fatalf("total students after backfill = %d, want 3", got)
	}
}

func TestPollStatusFailureKeepsPreviousView(t *testing.T) {
	b := &fakeBackend{
		status: &types.StatusResponse{
			SessionActive:  boolPtr(true),
			MarkedStudents: []string{"2241001"},
		},
	}
	m, _, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	before := m.Snapshot()
	b.set(func(b *fakeBackend) { b.statusErr = errors.New("connection refused") })
	m.pollStatus()

	after := m.Snapshot()
	if after.MarkedCount != before.MarkedCount || len(after.UnmarkedStudents) != len(before.UnmarkedStudents) {
		t.Error("transient poll failure changed the displayed view")
	}
	if after.State != "running" {
		t.Errorf("state after transient failure = %s, want running", after.State)
	}
}

func TestServerReportedInactiveFinalizesImmediately(t *testing.T) {
	b := &fakeBackend{
		status: &types.StatusResponse{SessionActive: boolPtr(false), MarkedStudents: []string{}},
	}
	m, _, s := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	snap := m.Snapshot()
	if snap.State != "finalized" {
		t.Fatalf("state = %s, want finalized", snap.State)
	}
	if got := len(s.activeRepeating()); got != 0 {
		t.Errorf("active timers after finalization = %d, want 0", got)
	}
	if b.calls("report") != 1 {
		t.Errorf("report calls = %d, want 1", b.calls("report"))
	}
	// Server said inactive: no confirmation round trip needed.
	if b.calls("expire") != 0 {
		t.Errorf("expire calls = %d, want 0", b.calls("expire"))
	}
}

func TestCountdownFormatAndDangerThreshold(t *testing.T) {
	b := &fakeBackend{}
	m, clock, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	snap := m.Snapshot()
	if snap.Countdown != "10:00" {
		t.Errorf("countdown = %q, want 10:00", snap.Countdown)
	}
	if snap.CountdownDanger {
		t.Error("danger flag set with 10 minutes remaining")
	}

	clock.Advance(5*time.Minute + time.Second)
	m.tick()

	snap = m.Snapshot()
	if snap.Countdown != "4:59" {
		t.Errorf("countdown = %q, want 4:59", snap.Countdown)
	}
	if !snap.CountdownDanger {
		t.Error("danger flag not set under 5 minutes")
	}
}

func TestLocalExpiryStillActiveRearmsRetry(t *testing.T) {
	b := &fakeBackend{
		expire: &types.CheckExpireResponse{Status: "active", Expired: false, SecondsRemaining: 42},
	}
	m, clock, s := newTestMonitor(b, nil)
	m.Start(testHandle(time.Minute), testRoster())

	clock.Advance(61 * time.Second)
	m.tick()

	snap := m.Snapshot()
	if snap.State != "confirming-expiry" {
		t.Fatalf("state = %s, want confirming-expiry", snap.State)
	}
	if snap.Countdown != "Expired" {
		t.Errorf("countdown = %q, want Expired", snap.Countdown)
	}
	if b.calls("expire") != 1 {
		t.Fatalf("expire calls = %d, want 1", b.calls("expire"))
	}

	retries := s.pendingOneShots()
	if len(retries) != 1 {
		t.Fatalf("pending retries = %d, want 1", len(retries))
	}
	if retries[0].interval != DefaultRetryBackoff {
		t.Errorf("retry backoff = %v, want %v", retries[0].interval, DefaultRetryBackoff)
	}

	// Server confirms on the retry.
	b.set(func(b *fakeBackend) {
		b.expire = &types.CheckExpireResponse{Status: "expired", Expired: true}
	})
	retries[0].fn()

	if got := m.Snapshot().State; got != "finalized" {
		t.Fatalf("state after confirmed retry = %s, want finalized", got)
	}
	if b.calls("report") != 1 {
		t.Errorf("report calls = %d, want 1", b.calls("report"))
	}
}

func TestConfirmExpiryNetworkErrorRearmsRetry(t *testing.T) {
	b := &fakeBackend{expireErr: errors.New("timeout")}
	m, clock, s := newTestMonitor(b, nil)
	m.Start(testHandle(time.Minute), testRoster())

	clock.Advance(2 * time.Minute)
	m.tick()

	if got := m.Snapshot().State; got != "confirming-expiry" {
		t.Fatalf("state = %s, want confirming-expiry", got)
	}
	if len(s.pendingOneShots()) != 1 {
		t.Fatalf("pending retries = %d, want 1", len(s.pendingOneShots()))
	}
	if m.Stats().ExpiryRetries != 1 {
		t.Errorf("expiry retries = %d, want 1", m.Stats().ExpiryRetries)
	}
}

func TestFinalizeExactlyOnce(t *testing.T) {
	b := &fakeBackend{
		expire: &types.CheckExpireResponse{Status: "expired", Expired: true},
	}
	m, clock, _ := newTestMonitor(b, nil)
	m.Start(testHandle(time.Minute), testRoster())

	// Countdown path finalizes first.
	clock.Advance(2 * time.Minute)
	m.tick()
	if got := m.Snapshot().State; got != "finalized" {
		t.Fatalf("state = %s, want finalized", got)
	}

	// A stale status poll reporting the same expiry must not finalize
	// again, and neither may another countdown tick or confirmation.
	b.set(func(b *fakeBackend) {
		b.status = &types.StatusResponse{SessionActive: boolPtr(false), MarkedStudents: []string{}}
	})
	m.pollStatus()
	m.tick()
	m.confirmExpiry()

	if b.calls("report") != 1 {
		t.Fatalf("report calls = %d, want 1 (double finalization)", b.calls("report"))
	}
}

func TestExtendUpdatesEndTime(t *testing.T) {
	b := &fakeBackend{
		extend: &types.ExtendSessionResponse{
			Status:     "success",
			NewEndTime: testBase.Add(20 * time.Minute).Format("2006-01-02 15:04:05"),
		},
	}
	m, clock, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	if err := m.Extend(10); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if got := m.Snapshot().Countdown; got != "20:00" {
		t.Errorf("countdown after extend = %q, want 20:00", got)
	}

	// Subsequent ticks must use the new end time.
	clock.Advance(time.Second)
	m.tick()
	if got := m.Snapshot().Countdown; got != "19:59" {
		t.Errorf("countdown after tick = %q, want 19:59", got)
	}
}

func TestExtendAfterExpiredRejectedWithoutNetworkCall(t *testing.T) {
	b := &fakeBackend{
		expire: &types.CheckExpireResponse{Status: "active", Expired: false, SecondsRemaining: 3},
	}
	m, clock, _ := newTestMonitor(b, nil)
	m.Start(testHandle(time.Minute), testRoster())

	clock.Advance(2 * time.Minute)
	m.tick()
	if got := m.Snapshot().Countdown; got != "Expired" {
		t.Fatalf("countdown = %q, want Expired", got)
	}

	err := m.Extend(10)
	if err != ErrSessionExpired {
		t.Fatalf("Extend() error = %v, want ErrSessionExpired", err)
	}
	if b.calls("extend") != 0 {
		t.Errorf("extend calls = %d, want 0 (rejected client-side)", b.calls("extend"))
	}

	snap := m.Snapshot()
	if snap.SessionID != 7 {
		t.Errorf("session id mutated by rejected extend")
	}
}

func TestExtendWithoutSession(t *testing.T) {
	b := &fakeBackend{}
	m, _, _ := newTestMonitor(b, nil)
	if err := m.Extend(10); err != ErrNoActiveSession {
		t.Fatalf("Extend() on idle monitor = %v, want ErrNoActiveSession", err)
	}
}

func TestEndFinalizesOnce(t *testing.T) {
	b := &fakeBackend{}
	m, _, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	if err := m.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := m.Snapshot().State; got != "finalized" {
		t.Fatalf("state = %s, want finalized", got)
	}
	if err := m.End(); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if b.calls("end") != 1 {
		t.Errorf("end calls = %d, want 1", b.calls("end"))
	}
	if b.calls("report") != 1 {
		t.Errorf("report calls = %d, want 1", b.calls("report"))
	}
}

func TestStopIsIdempotentAndSilencesCallbacks(t *testing.T) {
	b := &fakeBackend{}
	m, _, s := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), testRoster())

	m.Stop()
	m.Stop()

	if got := len(s.activeRepeating()); got != 0 {
		t.Fatalf("active timers after Stop = %d, want 0", got)
	}

	// A timer callback that was already in flight must be a no-op.
	before := b.calls("status")
	m.pollStatus()
	m.tick()
	if b.calls("status") != before {
		t.Errorf("status poll ran after Stop")
	}
	if got := m.Snapshot().State; got != "idle" {
		t.Errorf("state after Stop = %s, want idle", got)
	}
}

func TestResumeActiveSession(t *testing.T) {
	b := &fakeBackend{
		validate: &types.ValidateSessionResponse{
			Valid:            true,
			Course:           types.CourseInfo{CourseName: "Operating Systems", CourseCode: "CS301"},
			HasActiveSession: true,
			ActiveSession: &types.ActiveSessionInfo{
				ID:      7,
				EndTime: testBase.Add(5 * time.Minute).Format("2006-01-02 15:04:05"),
			},
			Students: testRoster(),
		},
	}
	m, _, s := newTestMonitor(b, nil)

	err := m.Resume(&state.Persisted{CourseID: 42, SessionID: 7, IsLoggedIn: true})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.State != "running" {
		t.Errorf("state = %s, want running", snap.State)
	}
	if snap.SessionID != 7 || snap.TotalStudents != 3 {
		t.Errorf("resumed session = %d with %d students, want 7 with 3", snap.SessionID, snap.TotalStudents)
	}
	if got := len(s.activeRepeating()); got != 3 {
		t.Errorf("active timers after resume = %d, want 3", got)
	}
}

func TestResumeInactiveSessionClearsState(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "resume.json"))
	err := store.Save(&state.Persisted{
		CourseID:   42,
		SessionID:  7,
		IsLoggedIn: true,
		EndTime:    testBase.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}

	b := &fakeBackend{
		validate: &types.ValidateSessionResponse{
			Valid:            true,
			HasActiveSession: false,
		},
	}
	m, _, s := newTestMonitor(b, store)

	persisted, _ := store.Load()
	if err := m.Resume(persisted); err != ErrNoActiveSession {
		t.Fatalf("Resume() error = %v, want ErrNoActiveSession", err)
	}

	if got := len(s.activeRepeating()); got != 0 {
		t.Errorf("active timers after failed resume = %d, want 0", got)
	}
	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() after clear: %v", err)
	}
	if reloaded != nil {
		t.Errorf("persisted blob survived a dead session: %+v", reloaded)
	}
}

func TestFinalizeClearsPersistedSession(t *testing.T) {
	store := state.NewStore(filepath.Join(t.TempDir(), "resume.json"))
	b := &fakeBackend{}
	m, _, _ := newTestMonitor(b, store)

	m.Start(testHandle(10*time.Minute), testRoster())
	persisted, err := store.Load()
	if err != nil || persisted == nil {
		t.Fatalf("Load() after Start = %+v, %v", persisted, err)
	}
	if persisted.SessionID != 7 || persisted.EndTime == "" {
		t.Fatalf("persisted session after Start = %+v", persisted)
	}

	if err := m.End(); err != nil {
		t.Fatal(err)
	}
	persisted, err = store.Load()
	if err != nil || persisted == nil {
		t.Fatalf("Load() after End = %+v, %v", persisted, err)
	}
	if persisted.SessionID != 0 || persisted.EndTime != "" {
		t.Errorf("inactive session left in resume blob: %+v", persisted)
	}
	if persisted.CurrentHomeScreen != "post-session" {
		t.Errorf("home screen = %q, want post-session", persisted.CurrentHomeScreen)
	}
}

func TestZeroEnrollmentRoster(t *testing.T) {
	b := &fakeBackend{}
	m, _, _ := newTestMonitor(b, nil)
	m.Start(testHandle(10*time.Minute), types.Roster{})

	snap := m.Snapshot()
	if snap.State != "running" {
		t.Errorf("state = %s, want running", snap.State)
	}
	if snap.TotalStudents != 0 || len(snap.UnmarkedStudents) != 0 {
		t.Errorf("zero-enrollment snapshot = %d total, %d unmarked", snap.TotalStudents, len(snap.UnmarkedStudents))
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	b := &fakeBackend{}
	m, _, _ := newTestMonitor(b, nil)

	updates, cancel := m.Subscribe()
	defer cancel()

	m.Start(testHandle(10*time.Minute), testRoster())

	select {
	case snap := <-updates:
		if snap.State != "running" {
			t.Errorf("pushed state = %s, want running", snap.State)
		}
	default:
		t.Fatal("no snapshot pushed on Start")
	}
}
