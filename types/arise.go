package types

// Wire types for the A.R.I.S.E. backend API. Field names follow the
// backend's snake_case JSON.

type LoginRequest struct {
	CourseCode string `json:"course_code"`
	PIN        string `json:"pin"`
}

type LoginResponse struct {
	Status          string `json:"status"`
	CourseID        int64  `json:"course_id"`
	CourseName      string `json:"course_name"`
	DefaultDuration int    `json:"default_duration"`
}

type StartSessionRequest struct {
	CourseID        int64  `json:"course_id"`
	StartDatetime   string `json:"start_datetime"`
	DurationMinutes int    `json:"duration_minutes"`
	SessionType     string `json:"session_type"`
	Topic           string `json:"topic,omitempty"`
}

type StartSessionResponse struct {
	Status          string    `json:"status"`
	SessionID       int64     `json:"session_id"`
	EndTime         string    `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Students        []Student `json:"students"`
}

// StatusResponse is one attendance status poll result. SessionActive is
// a pointer so that a response missing the field is not mistaken for an
// expired session; only an explicit false is authoritative.
type StatusResponse struct {
	SessionActive  *bool     `json:"session_active"`
	MarkedStudents []string  `json:"marked_students"`
	AbsentStudents []string  `json:"absent_students,omitempty"`
	AllStudents    []Student `json:"all_students,omitempty"`
}

// Active reports whether the backend explicitly flagged the session as
// still running.
func (r *StatusResponse) Active() bool {
	return r.SessionActive == nil || *r.SessionActive
}

type DeviceStatusResponse struct {
	Status       string `json:"status"`
	Battery      *int   `json:"battery,omitempty"`
	QueueCount   *int   `json:"queue_count,omitempty"`
	SyncCount    *int   `json:"sync_count,omitempty"`
	WifiStrength *int   `json:"wifi_strength,omitempty"`
	LastSeen     *int   `json:"last_seen,omitempty"`
	Message      string `json:"message,omitempty"`
}

// CheckExpireResponse confirms or denies session expiry. Status is one
// of "expired", "already_ended", "active", "not_found" or "error".
type CheckExpireResponse struct {
	Status           string `json:"status"`
	Expired          bool   `json:"expired"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
}

type ExtendSessionRequest struct {
	Minutes int `json:"minutes"`
}

type ExtendSessionResponse struct {
	Status     string `json:"status"`
	NewEndTime string `json:"new_end_time"`
	Message    string `json:"message,omitempty"`
}

type CourseInfo struct {
	CourseName string `json:"course_name"`
	CourseCode string `json:"course_code"`
}

type ActiveSessionInfo struct {
	ID      int64  `json:"id"`
	EndTime string `json:"end_time"`
}

type ValidateSessionResponse struct {
	Valid            bool               `json:"valid"`
	Course           CourseInfo         `json:"course"`
	HasActiveSession bool               `json:"has_active_session"`
	ActiveSession    *ActiveSessionInfo `json:"active_session,omitempty"`
	Students         []Student          `json:"students,omitempty"`
}

type ReportSession struct {
	ID        int64  `json:"id"`
	StartTime string `json:"start_time"`
	Topic     string `json:"topic,omitempty"`
}

// ReportResponse is the attendance matrix for the post-session view.
// PresentSet holds [session_id, student_id] pairs.
type ReportResponse struct {
	Sessions   []ReportSession `json:"sessions"`
	Students   []Student       `json:"students"`
	PresentSet [][]int64       `json:"present_set"`
}

// APIMessage is the backend's error envelope.
type APIMessage struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
