package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vyvo/pixelflow/pkg/form"
	"github.com/vyvo/pixelflow/pkg/history"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/materialize"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/payload"
)

var (
	// ErrUnknownModel is returned when selecting a model id the registry lacks.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownField is returned when editing a parameter the model lacks.
	ErrUnknownField = errors.New("unknown parameter")
)

// KeyStore is the credential collaborator.
type KeyStore interface {
	Keys() keystore.Keys
	Save(keys keystore.Keys) error
	ReplicateKey() (string, error)
}

// KeyValidator checks a candidate API key against the remote service.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) bool
}

// Materializer persists the outputs of a succeeded job.
type Materializer interface {
	Materialize(ctx context.Context, job jobs.Job, format string, progress func(int)) (materialize.GenerationRecord, error)
}

// Options wires a Session. Registry, Engine, Materializer and Keys are required.
type Options struct {
	Registry     *modelregistry.Registry
	Engine       *jobs.Engine
	Materializer Materializer
	Keys         KeyStore
	Validator    KeyValidator
	History      history.Recorder
	DataDir      string
	Logger       zerolog.Logger
}

// Result is the outcome of the most recent generation.
type Result struct {
	Job     jobs.Job                      `json:"job"`
	Record  *materialize.GenerationRecord `json:"record,omitempty"`
	Err     error                         `json:"-"`
	Message string                        `json:"message,omitempty"`
}

// Field pairs a visible parameter with its current value.
type Field struct {
	Spec  modelregistry.ParameterSpec `json:"spec"`
	Value any                         `json:"value,omitempty"`
}

// Session is the single-user orchestration layer behind every front end.
type Session struct {
	registry     *modelregistry.Registry
	engine       *jobs.Engine
	materializer Materializer
	keys         KeyStore
	validator    KeyValidator
	history      history.Recorder
	dataDir      string
	logger       zerolog.Logger

	mu    sync.Mutex
	model modelregistry.ModelDescriptor
	state form.State
	last  *Result
}

// New builds a session with the registry's default model selected.
func New(opts Options) (*Session, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("shell: registry is required")
	case opts.Engine == nil:
		return nil, errors.New("shell: engine is required")
	case opts.Materializer == nil:
		return nil, errors.New("shell: materializer is required")
	case opts.Keys == nil:
		return nil, errors.New("shell: key store is required")
	}
	model := opts.Registry.Default()
	if model.ID == "" {
		return nil, errors.New("shell: registry has no models")
	}
	return &Session{
		registry:     opts.Registry,
		engine:       opts.Engine,
		materializer: opts.Materializer,
		keys:         opts.Keys,
		validator:    opts.Validator,
		history:      opts.History,
		dataDir:      opts.DataDir,
		logger:       opts.Logger,
		model:        model,
		state:        form.DeriveInitialState(model, nil),
	}, nil
}

// Models lists the catalog in display order.
func (s *Session) Models() []modelregistry.ModelDescriptor {
	return s.registry.List()
}

// Model returns the selected model.
func (s *Session) Model() modelregistry.ModelDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SelectModel switches models, carrying over values for shared parameter ids.
func (s *Session) SelectModel(id string) error {
	model, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = form.DeriveInitialState(model, s.state)
	s.model = model
	return nil
}

// Edit applies a raw value to one parameter.
func (s *Session) Edit(paramID string, raw any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.model.HasParameter(paramID) {
		return fmt.Errorf("%w: %s", ErrUnknownField, paramID)
	}
	s.state = form.ApplyEdit(s.model, s.state, paramID, raw)
	return nil
}

// Values returns a copy of the current form state.
func (s *Session) Values() form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Fields returns the visible parameters in order with their values.
func (s *Session) Fields() []Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := form.VisibleParameters(s.model, s.state)
	out := make([]Field, 0, len(visible))
	for _, p := range visible {
		out = append(out, Field{Spec: p, Value: s.state[p.ID]})
	}
	return out
}

// Submittable reports whether every visible required field has a value.
func (s *Session) Submittable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return form.IsSubmittable(s.model, s.state)
}

// Validate returns constraint violations for the visible fields.
func (s *Session) Validate() []form.FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return form.Validate(s.model, s.state)
}

// Generate builds the request from the current form and starts a job. On
// success the outputs are materialized before the subscription reports done.
// The form is reset to the model defaults once the job is accepted.
func (s *Session) Generate(ctx context.Context) (*jobs.Subscription, error) {
	key, err := s.keys.ReplicateKey()
	if err != nil && !errors.Is(err, keystore.ErrMissingKey) {
		return nil, err
	}

	s.mu.Lock()
	model := s.model
	state := s.state.Clone()
	s.mu.Unlock()

	req, err := payload.Build(model, state, key)
	if err != nil {
		return nil, err
	}
	format, _ := req.Input["output_format"].(string)

	sub, err := s.engine.Start(ctx, req, func(ctx context.Context, job jobs.Job, err error, progress func(int)) error {
		var record *materialize.GenerationRecord
		if err == nil {
			rec, mErr := s.materializer.Materialize(ctx, job, format, progress)
			if mErr != nil {
				err = mErr
			}
			if rec.Directory != "" {
				record = &rec
			}
		}
		s.complete(ctx, job, record, err)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.model.ID == model.ID {
		s.state = form.DeriveInitialState(model, nil)
	}
	s.mu.Unlock()
	s.logger.Info().Str("model", model.ID).Msg("generation started")
	return sub, nil
}

func (s *Session) complete(ctx context.Context, job jobs.Job, record *materialize.GenerationRecord, err error) {
	res := &Result{Job: job, Record: record, Err: err, Message: UserMessage(err)}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	log := s.logger.With().Str("job_id", job.ID).Str("request_id", job.RequestID).Str("model", job.ModelID).Str("status", string(job.Status)).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("generation finished with error")
	} else {
		log.Info().Msg("generation finished")
	}

	id := job.ID
	if id == "" {
		// Rejected before the API assigned an id.
		id = job.RequestID
	}
	if s.history == nil || id == "" {
		return
	}
	entry := history.Entry{
		JobID:      id,
		ModelID:    job.ModelID,
		Status:     string(job.Status),
		Params:     job.Params,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if record != nil {
		entry.Directory = record.Directory
		entry.Artifacts = record.ArtifactPaths
	}
	if err != nil {
		entry.Error = err.Error()
	}
	// The job context may already be gone when the UI closed; history is best effort.
	if hErr := s.history.Record(context.WithoutCancel(ctx), entry); hErr != nil {
		log.Warn().Err(hErr).Msg("history record failed")
	}
}

// Active returns the in-flight job, if any.
func (s *Session) Active() (jobs.Job, bool) {
	return s.engine.Active()
}

// Last returns the outcome of the most recent generation started by this session.
func (s *Session) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// ValidateKey never errors: any failure means the key is not usable.
func (s *Session) ValidateKey(ctx context.Context, key string) bool {
	if s.validator == nil {
		return false
	}
	return s.validator.ValidateKey(ctx, strings.TrimSpace(key))
}

// Keys returns the stored credentials.
func (s *Session) Keys() keystore.Keys {
	return s.keys.Keys()
}

// SaveKeys replaces the stored credentials.
func (s *Session) SaveKeys(keys keystore.Keys) error {
	return s.keys.Save(keys)
}

// History lists recent generations, from the recorder when one is configured
// and otherwise from the generation folders on disk.
func (s *Session) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history != nil {
		return s.history.Recent(ctx, limit)
	}
	return DiskHistory(s.dataDir, limit)
}

// DiskHistory reads up to limit generation folders under dataDir, newest first.
func DiskHistory(dataDir string, limit int) ([]history.Entry, error) {
	if dataDir == "" {
		return nil, nil
	}
	records, err := materialize.List(dataDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]history.Entry, 0, len(records))
	for _, rec := range records {
		out = append(out, history.Entry{
			ModelID:   rec.ModelID,
			Status:    string(jobs.StatusSucceeded),
			Directory: rec.Directory,
			Artifacts: rec.ArtifactPaths,
			Params:    rec.Params,
		})
	}
	return out, nil
}
