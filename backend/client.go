// Package backend is the HTTP client for the A.R.I.S.E. REST API.
package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arisehq/live-monitor/types"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Client talks to one A.R.I.S.E. backend.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg types.APIMessage
		json.Unmarshal(data, &msg)
		text := msg.Message
		if text == "" {
			text = msg.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: text}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding %s response: %v", path, err)
	}
	return nil
}

func (c *Client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *Client) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

// Login authenticates a teacher by course code and PIN.
func (c *Client) Login(courseCode, pin string) (*types.LoginResponse, error) {
	var resp types.LoginResponse
	err := c.post("/api/teacher/login", types.LoginRequest{CourseCode: courseCode, PIN: pin}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateSession checks whether a persisted course still has an
// active session on the server.
func (c *Client) ValidateSession(courseID int64) (*types.ValidateSessionResponse, error) {
	var resp types.ValidateSessionResponse
	err := c.get(fmt.Sprintf("/api/teacher/validate-session/%d", courseID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartSession opens a new attendance session and returns the roster.
func (c *Client) StartSession(req types.StartSessionRequest) (*types.StartSessionResponse, error) {
	var resp types.StartSessionResponse
	if err := c.post("/api/teacher/start-session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionStatus fetches the current marked-student list and active
// flag for a session.
func (c *Client) SessionStatus(sessionID int64) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	err := c.get(fmt.Sprintf("/api/teacher/session/%d/status", sessionID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceStatus fetches the scanner device heartbeat.
func (c *Client) DeviceStatus() (*types.DeviceStatusResponse, error) {
	var resp types.DeviceStatusResponse
	if err := c.get("/api/teacher/device-status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckExpire asks the server to confirm expiry for a session. The
// backend answers the not-found case with the same JSON shape, so a
// 404 here is decoded rather than treated as an error.
func (c *Client) CheckExpire(sessionID int64) (*types.CheckExpireResponse, error) {
	path := fmt.Sprintf("/api/teacher/session/%d/check-expire", sessionID)
	var resp types.CheckExpireResponse
	err := c.post(path, nil, &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return &types.CheckExpireResponse{Status: "not_found", Expired: false}, nil
		}
		return nil, err
	}
	return &resp, nil
}

// ExtendSession extends a running session. The server currently fixes
// the extension at ten minutes; minutes is sent for forward
// compatibility.
func (c *Client) ExtendSession(sessionID int64, minutes int) (*types.ExtendSessionResponse, error) {
	path := fmt.Sprintf("/api/teacher/session/%d/extend", sessionID)
	var resp types.ExtendSessionResponse
	if err := c.post(path, types.ExtendSessionRequest{Minutes: minutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndSession closes a session explicitly.
func (c *Client) EndSession(sessionID int64) error {
	return c.post(fmt.Sprintf("/api/teacher/session/%d/end", sessionID), nil, nil)
}

// Report fetches the post-session attendance matrix.
func (c *Client) Report(sessionID int64) (*types.ReportResponse, error) {
	var resp types.ReportResponse
	err := c.get(fmt.Sprintf("/api/teacher/report/%d", sessionID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
