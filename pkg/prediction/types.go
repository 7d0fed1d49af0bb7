package prediction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status enumerates the prediction statuses reported by the remote API.
type Status string

const (
	// StatusStarting indicates the prediction is booting.
	StatusStarting Status = "starting"
	// StatusProcessing indicates the model is running.
	StatusProcessing Status = "processing"
	// StatusSucceeded indicates output is available.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the prediction errored.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the prediction was canceled remotely.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// URLs carries the job-specific endpoints returned at submission.
type URLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// Prediction is the response shape shared by submission and polling.
type Prediction struct {
	ID        string          `json:"id"`
	Model     string          `json:"model,omitempty"`
	Version   string          `json:"version,omitempty"`
	Status    Status          `json:"status"`
	URLs      URLs            `json:"urls"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Logs      string          `json:"logs,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`

	// Raw keeps the undecoded body for persistence.
	Raw json.RawMessage `json:"-"`
}

// OutputURLs normalises the output field into a list. A single string becomes
// a one-element list.
func (p Prediction) OutputURLs() ([]string, error) {
	trimmed := strings.TrimSpace(string(p.Output))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return []string{single}, nil
	}
	var many []any
	if err := json.Unmarshal(p.Output, &many); err != nil {
		return nil, fmt.Errorf("decode prediction output: %w", err)
	}
	out := make([]string, 0, len(many))
	for _, item := range many {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("decode prediction output: unexpected element %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// ErrorText returns the remote-supplied error as plain text.
func (p Prediction) ErrorText() string {
	trimmed := strings.TrimSpace(string(p.Error))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(p.Error, &detail); err == nil {
		if detail.Detail != "" {
			return detail.Detail
		}
		if detail.Error != "" {
			return detail.Error
		}
	}
	return trimmed
}

// errorEnvelope mirrors the error bodies returned on non-2xx responses.
type errorEnvelope struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (e errorEnvelope) message() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Error != "":
		return e.Error
	}
	return e.Title
}
