package jobs

import (
	"errors"
	"fmt"
	"time"
)

// ErrJobActive is returned when a submission arrives while another job is in flight.
var ErrJobActive = errors.New("a generation job is already running")

// GenerationFailedError reports a remote failed or canceled terminal status.
type GenerationFailedError struct {
	JobID    string
	Message  string
	Canceled bool
}

func (e *GenerationFailedError) Error() string {
	if e.Canceled {
		return "Generation was canceled"
	}
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return "Generation failed: " + msg
}

// TimeoutError reports that the attempt cap was exhausted without a terminal status.
type TimeoutError struct {
	JobID    string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("prediction timed out after %d polling attempts", e.Attempts)
}
