package jobs

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a generation job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	}
	return false
}

// Job describes one remote prediction tracked by the engine.
type Job struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"request_id"`
	ModelID       string          `json:"model_id"`
	Params        map[string]any  `json:"params"`
	Status        Status          `json:"status"`
	Progress      int             `json:"progress"`
	StatusMessage string          `json:"status_message"`
	OutputURLs    []string        `json:"output_urls,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

func (j Job) clone() Job {
	out := j
	out.OutputURLs = append([]string(nil), j.OutputURLs...)
	if j.Params != nil {
		out.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			out.Params[k] = v
		}
	}
	out.Raw = append(json.RawMessage(nil), j.Raw...)
	return out
}

// Policy bounds the polling loop and shapes reported progress.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	// ProgressFloor and ProgressCeiling frame the polling ramp; the span above
	// the ceiling is left for artifact downloads.
	ProgressFloor   int
	ProgressCeiling int
}

// DefaultPolicy polls every two seconds for up to sixty attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 60, Interval: 2 * time.Second, ProgressFloor: 30, ProgressCeiling: 80}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.ProgressCeiling <= 0 || p.ProgressCeiling >= 100 {
		p.ProgressCeiling = def.ProgressCeiling
	}
	if p.ProgressFloor < 0 || p.ProgressFloor >= p.ProgressCeiling {
		p.ProgressFloor = def.ProgressFloor
	}
	return p
}

// Progress maps a 1-based attempt index onto the linear polling ramp.
func (p Policy) Progress(attempt int) int {
	p = p.normalized()
	if attempt <= 0 {
		return p.ProgressFloor
	}
	span := p.ProgressCeiling - p.ProgressFloor
	v := p.ProgressFloor + attempt*span/p.MaxAttempts
	if v > p.ProgressCeiling {
		v = p.ProgressCeiling
	}
	return v
}
