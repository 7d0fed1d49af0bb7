package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vyvo/pixelflow/pkg/history"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/materialize"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/payload"
	"github.com/vyvo/pixelflow/pkg/prediction"
)

type fakeAPI struct {
	srv     *httptest.Server
	polls   atomic.Int32
	release chan struct{}
	bodies  chan map[string]any
}

func newFakeAPI(t *testing.T, gate chan struct{}) *fakeAPI {
	t.Helper()
	api := &fakeAPI{bodies: make(chan map[string]any, 4), release: gate}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/acme/alpha/predictions", func(w http.ResponseWriter, r *http.Request) {
		if api.release != nil {
			<-api.release
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.bodies <- body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"p1","status":"starting","urls":{"get":%q}}`, api.srv.URL+"/v1/predictions/p1")
	})
	mux.HandleFunc("/v1/predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer r8_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if api.polls.Add(1) < 2 {
			_, _ = io.WriteString(w, `{"id":"p1","status":"processing"}`)
			return
		}
		fmt.Fprintf(w, `{"id":"p1","model":"acme/alpha","status":"succeeded","output":[%q,%q]}`,
			api.srv.URL+"/files/0", api.srv.URL+"/files/1")
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "image "+r.URL.Path)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer r8_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"results":[]}`)
	})
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func ptr(v float64) *float64 { return &v }

func testRegistry(t *testing.T, baseURL string) *modelregistry.Registry {
	t.Helper()
	alpha := modelregistry.ModelDescriptor{
		ID:          "acme/alpha",
		DisplayName: "Alpha",
		EndpointURL: baseURL + "/v1/models/acme/alpha/predictions",
		Payload:     modelregistry.PayloadPolicy{Style: modelregistry.StyleModel},
		Parameters: []modelregistry.ParameterSpec{
			{ID: "prompt", DisplayName: "Prompt", Kind: modelregistry.KindText, Required: true, Order: 0},
			{ID: "aspect_ratio", DisplayName: "Aspect Ratio", Kind: modelregistry.KindSelect, Default: "1:1", Order: 1,
				Constraints: modelregistry.Constraints{Options: []string{"1:1", "16:9"}}},
			{ID: "seed", DisplayName: "Seed", Kind: modelregistry.KindNumber, Order: 2},
			{ID: "output_format", DisplayName: "Output Format", Kind: modelregistry.KindSelect, Default: "png", Order: 3,
				Constraints: modelregistry.Constraints{Options: []string{"webp", "png"}}},
			{ID: "steps", DisplayName: "Steps", Kind: modelregistry.KindRange, Default: 4, Order: 4,
				Constraints: modelregistry.Constraints{Min: ptr(1), Max: ptr(8), Step: ptr(1)}},
		},
	}
	beta := modelregistry.ModelDescriptor{
		ID:          "acme/beta",
		DisplayName: "Beta",
		EndpointURL: baseURL + "/v1/predictions",
		Version:     "v123",
		Payload:     modelregistry.PayloadPolicy{Style: modelregistry.StyleVersioned},
		Parameters: []modelregistry.ParameterSpec{
			{ID: "prompt", DisplayName: "Prompt", Kind: modelregistry.KindText, Required: true, Order: 0},
			{ID: "aspect_ratio", DisplayName: "Aspect Ratio", Kind: modelregistry.KindSelect, Default: "16:9", Order: 1,
				Constraints: modelregistry.Constraints{Options: []string{"1:1", "16:9"}}},
		},
	}
	reg, err := modelregistry.New(alpha, beta)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

type fixture struct {
	api     *fakeAPI
	session *Session
	keys    *keystore.Store
	history *history.Memory
	dataDir string
}

func newFixture(t *testing.T, withKey bool, gate chan struct{}) *fixture {
	t.Helper()
	api := newFakeAPI(t, gate)
	client := prediction.NewClient(prediction.Options{BaseURL: api.srv.URL + "/v1"})
	keys, err := keystore.Open(filepath.Join(t.TempDir(), "keys.json"), keystore.WithEnvLookup(func(string) (string, bool) { return "", false }))
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	if withKey {
		if err := keys.Save(keystore.Keys{Replicate: "r8_test"}); err != nil {
			t.Fatalf("save key: %v", err)
		}
	}
	dataDir := t.TempDir()
	mat, err := materialize.New(dataDir, client, zerolog.Nop())
	if err != nil {
		t.Fatalf("materializer: %v", err)
	}
	engine := jobs.NewEngine(client, jobs.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
	hist := history.NewMemory(0)
	session, err := New(Options{
		Registry:     testRegistry(t, api.srv.URL),
		Engine:       engine,
		Materializer: mat,
		Keys:         keys,
		Validator:    client,
		History:      hist,
		DataDir:      dataDir,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return &fixture{api: api, session: session, keys: keys, history: hist, dataDir: dataDir}
}

func waitDone(t *testing.T, sub *jobs.Subscription) (jobs.Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sub.Wait(ctx)
}

func TestGenerateEndToEnd(t *testing.T) {
	f := newFixture(t, true, nil)
	s := f.session
	if s.Submittable() {
		t.Fatalf("form without a prompt must not be submittable")
	}
	if err := s.Edit("prompt", "a lighthouse"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !s.Submittable() {
		t.Fatalf("expected form to be submittable")
	}

	sub, err := s.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, ok := s.Values()["prompt"]; ok {
		t.Fatalf("expected form to be reset after submission")
	}

	var progress []int
	var done *jobs.Event
	for ev := range sub.Events() {
		switch ev.Kind {
		case jobs.EventProgress:
			progress = append(progress, ev.Progress)
		case jobs.EventDone:
			ev := ev
			done = &ev
		}
	}
	if done == nil || done.Err != nil {
		t.Fatalf("expected successful done event, got %+v", done)
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("expected progress to finish at 100, got %v", progress)
	}

	body := <-f.api.bodies
	input, _ := body["input"].(map[string]any)
	if input["prompt"] != "a lighthouse" || input["output_format"] != "png" || input["steps"] != float64(4) {
		t.Fatalf("unexpected submitted input: %v", body)
	}
	if _, ok := input["seed"]; ok {
		t.Fatalf("empty seed must be omitted: %v", input)
	}
	if _, ok := body["version"]; ok {
		t.Fatalf("model-style request must not carry a version: %v", body)
	}

	last, ok := s.Last()
	if !ok || last.Record == nil || last.Err != nil {
		t.Fatalf("unexpected last result: %+v", last)
	}
	for _, name := range []string{"image-0.png", "image-1.png", "response.json", "params.json"} {
		if _, err := os.Stat(filepath.Join(last.Record.Directory, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	entries, err := s.History(context.Background(), 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one history entry, got %v %v", entries, err)
	}
	if entries[0].JobID != "p1" || entries[0].Status != string(jobs.StatusSucceeded) || len(entries[0].Artifacts) != 2 {
		t.Fatalf("unexpected history entry: %+v", entries[0])
	}
	if _, ok := s.Active(); ok {
		t.Fatalf("expected no active job after completion")
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	f := newFixture(t, false, nil)
	_ = f.session.Edit("prompt", "a lighthouse")
	_, err := f.session.Generate(context.Background())
	var cfgErr *payload.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if msg := UserMessage(err); msg != "API key is not set. Please add it in Settings." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestGenerateRejectsDuplicate(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, true, gate)
	_ = f.session.Edit("prompt", "one")
	sub, err := f.session.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_ = f.session.Edit("prompt", "two")
	if _, err := f.session.Generate(context.Background()); !errors.Is(err, jobs.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
	close(gate)
	if _, err := waitDone(t, sub); err != nil {
		t.Fatalf("first job: %v", err)
	}
}

func TestSelectModelCarriesSharedValues(t *testing.T) {
	f := newFixture(t, true, nil)
	s := f.session
	_ = s.Edit("prompt", "a fox")
	_ = s.Edit("seed", "42")
	if err := s.SelectModel("acme/beta"); err != nil {
		t.Fatalf("select: %v", err)
	}
	values := s.Values()
	if values["prompt"] != "a fox" || values["aspect_ratio"] != "1:1" {
		t.Fatalf("expected shared values to carry over, got %v", values)
	}
	if _, ok := values["seed"]; ok {
		t.Fatalf("expected seed to be dropped, got %v", values)
	}
	if len(s.Fields()) != 2 {
		t.Fatalf("expected beta's two fields, got %d", len(s.Fields()))
	}

	if err := s.SelectModel("acme/missing"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if err := s.Edit("seed", "1"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestValidateKeyAndSaveKeys(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	if !f.session.ValidateKey(ctx, " r8_test ") {
		t.Fatalf("expected key to validate")
	}
	if f.session.ValidateKey(ctx, "r8_wrong") {
		t.Fatalf("expected wrong key to be rejected")
	}
	if err := f.session.SaveKeys(keystore.Keys{Replicate: "r8_test", Gemini: "g"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := f.session.Keys(); got.Replicate != "r8_test" || got.Gemini != "g" {
		t.Fatalf("unexpected keys %+v", got)
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&jobs.TimeoutError{Attempts: 60}, "Generation took too long"},
		{fmt.Errorf("wrapped: %w", &jobs.GenerationFailedError{Message: "NSFW"}), "Generation failed: NSFW"},
		{&jobs.GenerationFailedError{Canceled: true}, "Generation was canceled"},
		{&payload.ConfigurationError{Field: "prompt", Reason: "is required"}, `Please check "prompt": is required`},
		{jobs.ErrJobActive, "A generation is already in progress"},
		{&prediction.RemoteRequestError{Op: "submit prediction", StatusCode: http.StatusUnauthorized}, "The API key was rejected. Please check it in Settings."},
		{&materialize.DownloadError{Index: 1, Written: []string{"a"}, Err: errors.New("reset")}, "Could not save image 2: reset (1 saved image(s) kept)"},
		{&materialize.DownloadError{Index: -1, File: "/data/response.json", Err: errors.New("is a directory")}, "Could not save the generation to /data/response.json: is a directory"},
		{context.Canceled, "Generation interrupted"},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Fatalf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
