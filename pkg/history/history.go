package history

import (
	"context"
	"sync"
	"time"
)

// Entry summarises one finished generation.
type Entry struct {
	JobID      string         `json:"job_id"`
	ModelID    string         `json:"model_id"`
	Status     string         `json:"status"`
	Directory  string         `json:"directory,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Recorder stores finished generations and lists the most recent ones.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// DefaultLimit caps how many entries a recorder keeps.
const DefaultLimit = 200

// Memory is an in-process Recorder used when no redis URL is configured.
type Memory struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

// NewMemory keeps at most max entries; max <= 0 uses DefaultLimit.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultLimit
	}
	return &Memory{max: max}
}

func (m *Memory) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]Entry{entry}, m.entries...)
	if len(m.entries) > m.max {
		m.entries = m.entries[:m.max]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, limit)
	copy(out, m.entries[:limit])
	return out, nil
}
