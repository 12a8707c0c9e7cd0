// Package state persists the resumable dashboard state as a single
// JSON blob, the way the browser dashboard kept it in localStorage.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Persisted is the resume blob. EndTime is an RFC 3339 string so the
// file stays readable; an empty string means no end time.
type Persisted struct {
	CourseID          int64  `json:"course_id"`
	CourseName        string `json:"course_name"`
	CourseCode        string `json:"course_code"`
	SessionID         int64  `json:"session_id,omitempty"`
	CurrentTab        string `json:"current_tab"`
	CurrentHomeScreen string `json:"current_home_screen"`
	IsLoggedIn        bool   `json:"is_logged_in"`
	EndTime           string `json:"end_time,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
}

// SetEndTime stores t, or clears the field when t is zero.
func (p *Persisted) SetEndTime(t time.Time) {
	if t.IsZero() {
		p.EndTime = ""
		return
	}
	p.EndTime = t.Format(time.RFC3339)
}

// ParsedEndTime returns the stored end time, or the zero time when the
// field is empty or unparseable.
func (p *Persisted) ParsedEndTime() time.Time {
	if p.EndTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, p.EndTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Store reads and writes the blob at a fixed path. Last write wins;
// there is a single writer per teacher machine.
type Store struct {
	path string

	mu  sync.Mutex
	cur *Persisted
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the blob from disk. A missing file yields (nil, nil); a
// corrupt file yields an error so the caller can decide to start over.
func (s *Store) Load() (*Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %v", s.path, err)
	}
	s.cur = &p
	copy := p
	return &copy, nil
}

// Save writes the blob. A blob without a session must not carry an end
// time, so the field is normalized here.
func (s *Store) Save(p *Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

func (s *Store) saveLocked(p *Persisted) error {
	if p.SessionID == 0 {
		p.EndTime = ""
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return err
	}
	copy := *p
	s.cur = &copy
	return nil
}

// Update applies fn to the current blob (an empty one if none exists)
// and saves the result.
func (s *Store) Update(fn func(*Persisted)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		if data, err := os.ReadFile(s.path); err == nil {
			var p Persisted
			if json.Unmarshal(data, &p) == nil {
				s.cur = &p
			}
		}
	}
	p := Persisted{CurrentTab: "home", CurrentHomeScreen: "setup"}
	if s.cur != nil {
		p = *s.cur
	}
	fn(&p)
	return s.saveLocked(&p)
}

// Clear removes the blob.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
