package jobs

import (
	"context"
	"sync"
)

// EventKind distinguishes the notifications pushed to a subscriber.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventStatus   EventKind = "status"
	EventDone     EventKind = "done"
)

// Event is one push notification for the active job.
type Event struct {
	Kind     EventKind `json:"kind"`
	Progress int       `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
	Job      *Job      `json:"job,omitempty"`
	Err      error     `json:"-"`
}

const subscriptionBuffer = 64

// Subscription is the event channel scoped to a single job. The publisher
// never blocks on a slow reader; intermediate events may be dropped but the
// done event is always delivered before the channel closes.
type Subscription struct {
	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	progress int
	result   Job
	err      error
}

// NewSubscription returns an open subscription.
func NewSubscription() *Subscription {
	return &Subscription{
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side of the channel. It is closed after done.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the job and any post-success work completed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Wait blocks until the job finishes or ctx is done.
func (s *Subscription) Wait(ctx context.Context) (Job, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result.clone(), s.err
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Progress publishes a progress value. Values never move backwards.
func (s *Subscription) Progress(v int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if v < s.progress {
		v = s.progress
	}
	if v > 100 {
		v = 100
	}
	s.progress = v
	s.offer(Event{Kind: EventProgress, Progress: v})
}

// Status publishes a human-readable status line.
func (s *Subscription) Status(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.offer(Event{Kind: EventStatus, Message: msg})
}

// Finish publishes the terminal event and closes the subscription.
func (s *Subscription) Finish(job Job, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.result = job.clone()
	s.err = err
	snapshot := job.clone()
	ev := Event{Kind: EventDone, Progress: s.progress, Message: job.StatusMessage, Job: &snapshot, Err: err}
	select {
	case s.events <- ev:
	default:
		// Make room by discarding the oldest pending event.
		select {
		case <-s.events:
		default:
		}
		s.events <- ev
	}
	close(s.events)
	close(s.done)
}

func (s *Subscription) offer(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
