package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vyvo/pixelflow/pkg/payload"
	"github.com/vyvo/pixelflow/pkg/prediction"
)

type pollStep struct {
	status prediction.Status
	output string
	errMsg string
	err    error
}

type fakeClient struct {
	mu        sync.Mutex
	submit    prediction.Prediction
	submitErr error
	steps     []pollStep
	gets      int
	block     chan struct{}
}

func (f *fakeClient) Submit(ctx context.Context, endpoint string, header http.Header, body any) (prediction.Prediction, error) {
	if f.submitErr != nil {
		return prediction.Prediction{}, f.submitErr
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return prediction.Prediction{}, ctx.Err()
		}
	}
	return f.submit, nil
}

func (f *fakeClient) Get(ctx context.Context, pollURL string, header http.Header) (prediction.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.gets
	f.gets++
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	step := f.steps[idx]
	if step.err != nil {
		return prediction.Prediction{}, step.err
	}
	p := prediction.Prediction{ID: "p1", Status: step.status, Raw: json.RawMessage(`{"id":"p1"}`)}
	if step.output != "" {
		p.Output = json.RawMessage(step.output)
	}
	if step.errMsg != "" {
		p.Error = json.RawMessage(step.errMsg)
	}
	return p, nil
}

func (f *fakeClient) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func started() prediction.Prediction {
	return prediction.Prediction{ID: "p1", Status: prediction.StatusStarting, URLs: prediction.URLs{Get: "https://api/predictions/p1"}}
}

func request() payload.Request {
	return payload.Request{
		ModelID: "black-forest-labs/flux-dev",
		URL:     "https://api/models/black-forest-labs/flux-dev/predictions",
		Header:  http.Header{"Authorization": []string{"Bearer k"}},
		Body:    map[string]any{"input": map[string]any{"prompt": "a cat"}},
		Input:   map[string]any{"prompt": "a cat"},
	}
}

func newTestEngine(client PredictionClient, sleeps *[]time.Duration) *Engine {
	return NewEngine(client, WithSleep(func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	}))
}

func TestRunPollsUntilSucceeded(t *testing.T) {
	client := &fakeClient{
		submit: started(),
		steps: []pollStep{
			{status: prediction.StatusProcessing},
			{status: prediction.StatusProcessing},
			{status: prediction.StatusSucceeded, output: `["https://x/0.png","https://x/1.png"]`},
		},
	}
	var sleeps []time.Duration
	engine := newTestEngine(client, &sleeps)
	sub := NewSubscription()

	job, err := engine.Run(context.Background(), request(), sub)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.getCount() != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", client.getCount())
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second {
		t.Fatalf("expected two 2s waits between polls, got %v", sleeps)
	}
	if job.Status != StatusSucceeded || job.ID != "p1" || job.Attempts != 3 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if diff := cmp.Diff([]string{"https://x/0.png", "https://x/1.png"}, job.OutputURLs); diff != "" {
		t.Fatalf("unexpected output urls (-want +got):\n%s", diff)
	}
	if job.Progress != 80 {
		t.Fatalf("expected polling to end at the ceiling, got %d", job.Progress)
	}

	var statuses []string
	last := 0
	for len(sub.events) > 0 {
		ev := <-sub.events
		if ev.Kind == EventProgress {
			if ev.Progress < last {
				t.Fatalf("progress moved backwards: %d after %d", ev.Progress, last)
			}
			last = ev.Progress
		}
		if ev.Kind == EventStatus {
			statuses = append(statuses, ev.Message)
		}
	}
	want := "Generation in progress: processing (attempt 2/60)"
	found := false
	for _, s := range statuses {
		if s == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected status %q in %v", want, statuses)
	}
}

func TestRunTimesOutAfterMaxAttempts(t *testing.T) {
	client := &fakeClient{
		submit: started(),
		steps:  []pollStep{{status: prediction.StatusProcessing}},
	}
	var sleeps []time.Duration
	engine := newTestEngine(client, &sleeps)

	job, err := engine.Run(context.Background(), request(), nil)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Attempts != 60 {
		t.Fatalf("expected 60 attempts, got %d", timeout.Attempts)
	}
	if client.getCount() != 60 {
		t.Fatalf("expected 60 polls, got %d", client.getCount())
	}
	if len(sleeps) != 59 {
		t.Fatalf("expected no wait after the final attempt, got %d waits", len(sleeps))
	}
	if job.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", job.Status)
	}
	if job.StatusMessage != "Generation timed out - the process took too long" {
		t.Fatalf("unexpected status message %q", job.StatusMessage)
	}
}

func TestRunTerminalOnSubmitSkipsPolling(t *testing.T) {
	client := &fakeClient{
		submit: prediction.Prediction{ID: "p1", Status: prediction.StatusSucceeded, Output: json.RawMessage(`"https://x/img.webp"`)},
	}
	job, err := newTestEngine(client, nil).Run(context.Background(), request(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.getCount() != 0 {
		t.Fatalf("expected no polling, got %d", client.getCount())
	}
	if len(job.OutputURLs) != 1 || job.OutputURLs[0] != "https://x/img.webp" {
		t.Fatalf("unexpected outputs: %v", job.OutputURLs)
	}
}

func TestRunRetriesTransientPollErrors(t *testing.T) {
	transient := &prediction.RemoteRequestError{Op: "get prediction", StatusCode: http.StatusBadGateway}
	client := &fakeClient{
		submit: started(),
		steps: []pollStep{
			{err: transient},
			{status: prediction.StatusSucceeded, output: `["https://x/0.png"]`},
		},
	}
	job, err := newTestEngine(client, nil).Run(context.Background(), request(), nil)
	if err != nil {
		t.Fatalf("expected transient error to be retried, got %v", err)
	}
	if job.Status != StatusSucceeded || client.getCount() != 2 {
		t.Fatalf("unexpected result: %+v after %d polls", job, client.getCount())
	}
}

func TestRunReraisesErrorOnFinalAttempt(t *testing.T) {
	transient := &prediction.RemoteRequestError{Op: "get prediction", StatusCode: http.StatusServiceUnavailable}
	client := &fakeClient{
		submit: started(),
		steps:  []pollStep{{err: transient}},
	}
	engine := NewEngine(client,
		WithPolicy(Policy{MaxAttempts: 3, Interval: time.Millisecond, ProgressFloor: 30, ProgressCeiling: 80}),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	job, err := engine.Run(context.Background(), request(), nil)
	var remote *prediction.RemoteRequestError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteRequestError on final attempt, got %v", err)
	}
	if client.getCount() != 3 || job.Status != StatusFailed {
		t.Fatalf("unexpected result: status=%s polls=%d", job.Status, client.getCount())
	}
}

func TestRunFailedAndCanceled(t *testing.T) {
	client := &fakeClient{
		submit: started(),
		steps:  []pollStep{{status: prediction.StatusFailed, errMsg: `"NSFW content detected"`}},
	}
	job, err := newTestEngine(client, nil).Run(context.Background(), request(), nil)
	var failed *GenerationFailedError
	if !errors.As(err, &failed) || failed.Canceled {
		t.Fatalf("expected GenerationFailedError, got %v", err)
	}
	if failed.Message != "NSFW content detected" || job.Status != StatusFailed {
		t.Fatalf("unexpected failure: %+v %+v", failed, job)
	}
	if job.StatusMessage != "Generation failed: NSFW content detected" {
		t.Fatalf("unexpected status message %q", job.StatusMessage)
	}

	client = &fakeClient{submit: started(), steps: []pollStep{{status: prediction.StatusCanceled}}}
	job, err = newTestEngine(client, nil).Run(context.Background(), request(), nil)
	if !errors.As(err, &failed) || !failed.Canceled {
		t.Fatalf("expected canceled GenerationFailedError, got %v", err)
	}
	if job.Status != StatusCanceled {
		t.Fatalf("expected canceled status, got %s", job.Status)
	}
}

func TestRunSubmitError(t *testing.T) {
	client := &fakeClient{submitErr: &prediction.RemoteRequestError{Op: "submit prediction", StatusCode: http.StatusUnauthorized}}
	job, err := newTestEngine(client, nil).Run(context.Background(), request(), nil)
	var remote *prediction.RemoteRequestError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 RemoteRequestError, got %v", err)
	}
	if job.Status != StatusFailed || client.getCount() != 0 {
		t.Fatalf("unexpected job after submit failure: %+v", job)
	}
}

func TestStartRejectsConcurrentJob(t *testing.T) {
	block := make(chan struct{})
	client := &fakeClient{
		submit: started(),
		steps:  []pollStep{{status: prediction.StatusSucceeded, output: `["https://x/0.png"]`}},
		block:  block,
	}
	engine := newTestEngine(client, nil)

	sub, err := engine.Start(context.Background(), request(), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.Start(context.Background(), request(), nil); !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
	active, ok := engine.Active()
	if !ok {
		t.Fatalf("expected an active job while the first is in flight")
	}
	if active.RequestID == "" || active.Status != StatusPending {
		t.Fatalf("expected a pending job with a request id, got %+v", active)
	}
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := sub.Wait(ctx)
	if err != nil || job.Status != StatusSucceeded {
		t.Fatalf("unexpected result: %+v %v", job, err)
	}
	if _, ok := engine.Active(); ok {
		t.Fatalf("expected no active job after completion")
	}
	if last, ok := engine.Last(); !ok || last.ID != "p1" || last.RequestID != active.RequestID {
		t.Fatalf("expected last job to be recorded, got %+v", last)
	}
}

func TestStartRunsCompletion(t *testing.T) {
	client := &fakeClient{
		submit: started(),
		steps:  []pollStep{{status: prediction.StatusSucceeded, output: `["https://x/0.png"]`}},
	}
	engine := newTestEngine(client, nil)
	hookErr := errors.New("disk full")
	var seen Job
	sub, err := engine.Start(context.Background(), request(), func(ctx context.Context, job Job, err error, progress func(int)) error {
		if err != nil {
			t.Errorf("unexpected engine error: %v", err)
		}
		seen = job
		progress(90)
		return hookErr
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var done *Event
	for ev := range sub.Events() {
		if ev.Kind == EventDone {
			ev := ev
			done = &ev
		}
	}
	if done == nil {
		t.Fatalf("expected a done event before the channel closed")
	}
	if !errors.Is(done.Err, hookErr) || done.Progress != 90 {
		t.Fatalf("unexpected done event: %+v", done)
	}
	if seen.Status != StatusSucceeded {
		t.Fatalf("hook should see a succeeded job, got %s", seen.Status)
	}
}

func TestStartCompletionSeesFailures(t *testing.T) {
	client := &fakeClient{submit: started(), steps: []pollStep{{status: prediction.StatusFailed, errMsg: `"boom"`}}}
	engine := newTestEngine(client, nil)
	var got error
	sub, err := engine.Start(context.Background(), request(), func(ctx context.Context, job Job, err error, progress func(int)) error {
		got = err
		return err
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := sub.Wait(ctx)
	var failed *GenerationFailedError
	if !errors.As(err, &failed) || !errors.As(got, &failed) {
		t.Fatalf("expected failure to reach completion and subscriber, got %v / %v", got, err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("unexpected status %s", job.Status)
	}
}

func TestPolicyProgress(t *testing.T) {
	p := DefaultPolicy()
	cases := map[int]int{0: 30, 1: 30, 6: 35, 30: 55, 60: 80, 90: 80}
	for attempt, want := range cases {
		if got := p.Progress(attempt); got != want {
			t.Fatalf("Progress(%d) = %d, want %d", attempt, got, want)
		}
	}
}

func TestSubscriptionDeliversDoneWhenFull(t *testing.T) {
	sub := NewSubscription()
	for i := 0; i < subscriptionBuffer*2; i++ {
		sub.Status("tick")
	}
	sub.Finish(Job{ID: "p1", Status: StatusSucceeded}, nil)

	var kinds []EventKind
	for ev := range sub.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != subscriptionBuffer || kinds[len(kinds)-1] != EventDone {
		t.Fatalf("expected the buffer to end with done, got %d events ending in %s", len(kinds), kinds[len(kinds)-1])
	}
	sub.Progress(50)
	sub.Finish(Job{}, nil)
}
