package types

import (
	"fmt"
	"time"
)

// Student is one enrolled student as the backend reports it.
type Student struct {
	ID               int64  `json:"id,omitempty"`
	ClassRollID      int64  `json:"class_roll_id"`
	StudentName      string `json:"student_name"`
	UniversityRollNo string `json:"university_roll_no"`
}

// Roster is the ordered list of students eligible in a session. It is
// fetched once at session start and never mutated afterwards.
type Roster []Student

// RollSet is a lookup set of university roll numbers.
type RollSet map[string]struct{}

func NewRollSet(rolls []string) RollSet {
	s := make(RollSet, len(rolls))
	for _, r := range rolls {
		s[r] = struct{}{}
	}
	return s
}

func (s RollSet) Has(roll string) bool {
	_, ok := s[roll]
	return ok
}

// Unmarked returns the students whose university roll number is not in
// marked, preserving roster order.
func (r Roster) Unmarked(marked RollSet) []Student {
	out := make([]Student, 0, len(r))
	for _, s := range r {
		if !marked.Has(s.UniversityRollNo) {
			out = append(out, s)
		}
	}
	return out
}

// SessionHandle identifies one live attendance session.
type SessionHandle struct {
	CourseID  int64
	SessionID int64
	EndTime   time.Time
	Active    bool
}

// DeviceView is the presentational classification of the scanner
// device's heartbeat. State is one of "online", "offline", "unknown"
// or "error".
type DeviceView struct {
	State           string `json:"state"`
	Signal          string `json:"signal,omitempty"` // Strong, Okay or Weak
	Battery         *int   `json:"battery,omitempty"`
	QueueCount      *int   `json:"queue_count,omitempty"`
	SyncCount       *int   `json:"sync_count,omitempty"`
	LastSeenSeconds *int   `json:"last_seen_seconds,omitempty"`
	Message         string `json:"message,omitempty"`
}

// The backend stores timestamps as local "YYYY-MM-DD HH:MM:SS" strings.
const serverTimeLayout = "2006-01-02 15:04:05"

// ParseServerTime parses a backend timestamp. It accepts the backend's
// space-separated format, the same format with a T separator, and
// RFC 3339.
func ParseServerTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(serverTimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized server time %q", s)
	}
	return t, nil
}
