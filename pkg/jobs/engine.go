package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/pixelflow/pkg/payload"
	"github.com/vyvo/pixelflow/pkg/prediction"
)

var tracer = otel.Tracer("github.com/vyvo/pixelflow/pkg/jobs")

// PredictionClient is the subset of the prediction API the engine drives.
type PredictionClient interface {
	Submit(ctx context.Context, endpoint string, header http.Header, body any) (prediction.Prediction, error)
	Get(ctx context.Context, pollURL string, header http.Header) (prediction.Prediction, error)
}

// Completion runs once a started job is terminal, while the engine slot is
// still held. It receives the engine's error (nil on success) and returns the
// error reported to subscribers. progress forwards into the same subscription.
type Completion func(ctx context.Context, job Job, err error, progress func(int)) error

// Option customises an Engine.
type Option func(*Engine)

// WithPolicy overrides the polling bounds.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p.normalized() }
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSleep replaces the wait between polls. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// Engine submits predictions and polls them to a terminal state. At most one
// job is active at a time.
type Engine struct {
	client PredictionClient
	policy Policy
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu     sync.Mutex
	busy   bool
	active *Job
	last   *Job
}

// NewEngine builds an engine around client.
func NewEngine(client PredictionClient, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		policy: DefaultPolicy(),
		logger: zerolog.Nop(),
		sleep:  sleepContext,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective polling bounds.
func (e *Engine) Policy() Policy { return e.policy }

// Start submits req in the background and returns a subscription that receives
// progress, status and a final done event. ErrJobActive is returned while
// another job holds the slot. complete may be nil.
func (e *Engine) Start(ctx context.Context, req payload.Request, complete Completion) (*Subscription, error) {
	job, err := e.acquire(req)
	if err != nil {
		return nil, err
	}
	sub := NewSubscription()
	go func() {
		result, err := e.execute(ctx, job, req, sub)
		if complete != nil {
			err = complete(ctx, result.clone(), err, sub.Progress)
		}
		if err == nil {
			sub.Progress(100)
		}
		// Free the slot before notifying so listeners can resubmit immediately.
		e.release()
		sub.Finish(result, err)
	}()
	return sub, nil
}

// Run submits req and blocks until the job reaches a terminal state. sub may
// be nil when no listener is interested.
func (e *Engine) Run(ctx context.Context, req payload.Request, sub *Subscription) (Job, error) {
	job, err := e.acquire(req)
	if err != nil {
		return Job{}, err
	}
	defer e.release()
	return e.execute(ctx, job, req, sub)
}

// Active returns a snapshot of the in-flight job, if any.
func (e *Engine) Active() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return Job{}, false
	}
	return e.active.clone(), true
}

// Last returns the most recent job to reach a terminal state.
func (e *Engine) Last() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Job{}, false
	}
	return e.last.clone(), true
}

func (e *Engine) acquire(req payload.Request) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, ErrJobActive
	}
	e.busy = true
	e.active = &Job{
		RequestID: uuid.NewString(),
		ModelID:   req.ModelID,
		Params:    req.Input,
		Status:    StatusPending,
		StartedAt: e.now(),
	}
	return e.active, nil
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
	e.active = nil
}

func (e *Engine) execute(ctx context.Context, job *Job, req payload.Request, sub *Subscription) (Job, error) {
	ctx, span := tracer.Start(ctx, "jobs.Run")
	defer span.End()
	span.SetAttributes(attribute.String("model.id", req.ModelID), attribute.String("request.id", job.RequestID))

	log := e.logger.With().Str("model", req.ModelID).Str("request_id", job.RequestID).Logger()

	e.report(job, sub, 10, "Submitting generation request...")
	initial, err := e.client.Submit(ctx, req.URL, req.Header, req.Body)
	if err != nil {
		log.Error().Err(err).Msg("prediction submit failed")
		return e.fail(span, job, StatusFailed, err)
	}
	e.update(func() {
		job.ID = initial.ID
		job.Raw = initial.Raw
	})
	span.SetAttributes(attribute.String("job.id", job.ID))
	log = log.With().Str("job_id", job.ID).Logger()
	log.Info().Str("status", string(initial.Status)).Msg("prediction submitted")

	if initial.Status.Terminal() {
		return e.resolve(span, job, sub, initial)
	}
	if initial.URLs.Get == "" {
		err := &prediction.RemoteRequestError{Op: "submit prediction", Message: "response has no polling URL"}
		return e.fail(span, job, StatusFailed, err)
	}

	e.update(func() { job.Status = StatusRunning })
	e.report(job, sub, e.policy.ProgressFloor, "Generation started...")

	max := e.policy.MaxAttempts
	for attempt := 1; attempt <= max; attempt++ {
		e.update(func() { job.Attempts = attempt })
		pollCtx, pollSpan := tracer.Start(ctx, "jobs.Poll", trace.WithAttributes(attribute.Int("attempt", attempt)))
		current, err := e.client.Get(pollCtx, initial.URLs.Get, req.Header)
		if err != nil {
			pollSpan.RecordError(err)
		}
		pollSpan.End()
		switch {
		case err != nil && ctx.Err() != nil:
			return e.fail(span, job, StatusFailed, ctx.Err())
		case err != nil:
			log.Warn().Err(err).Int("attempt", attempt).Msg("poll attempt failed")
			if attempt == max {
				return e.fail(span, job, StatusFailed, err)
			}
		default:
			e.update(func() { job.Raw = current.Raw })
			log.Debug().Int("attempt", attempt).Str("status", string(current.Status)).Msg("polled prediction")
			msg := fmt.Sprintf("Generation in progress: %s (attempt %d/%d)", current.Status, attempt, max)
			e.report(job, sub, e.policy.Progress(attempt), msg)
			if current.Status.Terminal() {
				return e.resolve(span, job, sub, current)
			}
		}
		if attempt < max {
			if err := e.sleep(ctx, e.policy.Interval); err != nil {
				return e.fail(span, job, StatusFailed, err)
			}
		}
	}

	log.Warn().Int("attempt", max).Msg("prediction polling exhausted")
	timeout := &TimeoutError{JobID: job.ID, Attempts: max, Interval: e.policy.Interval}
	sub.Status(statusMessage(timeout))
	return e.fail(span, job, StatusTimedOut, timeout)
}

func (e *Engine) resolve(span trace.Span, job *Job, sub *Subscription, p prediction.Prediction) (Job, error) {
	e.update(func() { job.Raw = p.Raw })
	switch p.Status {
	case prediction.StatusSucceeded:
		urls, err := p.OutputURLs()
		if err != nil {
			return e.fail(span, job, StatusFailed, &prediction.RemoteRequestError{Op: "read prediction output", Err: err})
		}
		e.update(func() { job.OutputURLs = urls })
		e.report(job, sub, e.policy.ProgressCeiling, "Generation completed, fetching images...")
		return e.finish(job, StatusSucceeded, nil), nil
	case prediction.StatusCanceled:
		err := &GenerationFailedError{JobID: job.ID, Canceled: true}
		sub.Status(err.Error())
		return e.fail(span, job, StatusCanceled, err)
	default:
		err := &GenerationFailedError{JobID: job.ID, Message: p.ErrorText()}
		sub.Status(err.Error())
		return e.fail(span, job, StatusFailed, err)
	}
}

func (e *Engine) fail(span trace.Span, job *Job, status Status, err error) (Job, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	snapshot := e.finish(job, status, err)
	return snapshot, err
}

func (e *Engine) finish(job *Job, status Status, err error) Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job.Status = status
	job.FinishedAt = e.now()
	if err != nil {
		job.Error = err.Error()
		job.StatusMessage = statusMessage(err)
	}
	snapshot := job.clone()
	e.last = &snapshot
	return snapshot.clone()
}

func (e *Engine) report(job *Job, sub *Subscription, progress int, msg string) {
	e.update(func() {
		if progress > job.Progress {
			job.Progress = progress
		}
		job.StatusMessage = msg
	})
	sub.Progress(progress)
	sub.Status(msg)
}

func (e *Engine) update(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func statusMessage(err error) string {
	var failed *GenerationFailedError
	var timeout *TimeoutError
	switch {
	case errors.As(err, &failed):
		return failed.Error()
	case errors.As(err, &timeout):
		return "Generation timed out - the process took too long"
	case errors.Is(err, context.Canceled):
		return "Generation interrupted"
	}
	return "Generation failed: " + err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
