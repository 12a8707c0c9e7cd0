package types

import "time"

// MonitorStats tracks counters for one monitor run.
type MonitorStats struct {
	RunID           string    `json:"run_id"`
	StartTime       time.Time `json:"start_time"`
	StatusPolls     int64     `json:"status_polls"`
	StatusFailures  int64     `json:"status_failures"`
	DevicePolls     int64     `json:"device_polls"`
	DeviceFailures  int64     `json:"device_failures"`
	CountdownTicks  int64     `json:"countdown_ticks"`
	ExpiryRetries   int64     `json:"expiry_retries"`
	LastStatusPoll  time.Time `json:"last_status_poll,omitempty"`
	SessionsStarted int64     `json:"sessions_started"`
}
