package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/pixelflow/pkg/jobs"
)

// GenerationDir is the directory under the data dir holding one folder per job.
const GenerationDir = "generation"

const (
	responseFile = "response.json"
	paramsFile   = "params.json"
)

var tracer = otel.Tracer("github.com/vyvo/pixelflow/pkg/materialize")

// Downloader fetches a remote artifact into w.
type Downloader interface {
	Download(ctx context.Context, artifactURL string, w io.Writer) (int64, error)
}

// GenerationRecord describes a persisted job result.
type GenerationRecord struct {
	Timestamp     string          `json:"timestamp"`
	Directory     string          `json:"directory"`
	ModelID       string          `json:"model_id,omitempty"`
	Params        map[string]any  `json:"params,omitempty"`
	ArtifactPaths []string        `json:"artifact_paths"`
	RawResponse   json.RawMessage `json:"raw_response,omitempty"`
}

// DownloadError reports the artifact that could not be fetched or written.
// Failures on the generation directory or its metadata files carry Index -1
// and name the path in File. Files listed in Written stay on disk.
type DownloadError struct {
	Index   int
	URL     string
	File    string
	Written []string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("save %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("download image %d: %v", e.Index, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Materializer writes job results under DataDir.
type Materializer struct {
	dataDir    string
	downloader Downloader
	logger     zerolog.Logger
}

// New returns a materializer rooted at dataDir.
func New(dataDir string, downloader Downloader, logger zerolog.Logger) (*Materializer, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return nil, errors.New("materialize: data dir is required")
	}
	if downloader == nil {
		return nil, errors.New("materialize: downloader is required")
	}
	return &Materializer{dataDir: dataDir, downloader: downloader, logger: logger}, nil
}

// Root returns the directory holding all generation folders.
func (m *Materializer) Root() string {
	return filepath.Join(m.dataDir, GenerationDir)
}

// Timestamp renders t as the fixed-width directory token, e.g. 2024-05-01T09-30-00-123Z.
func Timestamp(t time.Time) string {
	t = t.UTC()
	return t.Format("2006-01-02T15-04-05") + fmt.Sprintf("-%03dZ", t.Nanosecond()/int(time.Millisecond))
}

// Materialize downloads every output of a succeeded job in order and writes
// the response and parameter files next to them. progress receives values
// between 80 and 100.
func (m *Materializer) Materialize(ctx context.Context, job jobs.Job, format string, progress func(int)) (GenerationRecord, error) {
	ctx, span := tracer.Start(ctx, "materialize.Materialize")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.Int("artifacts", len(job.OutputURLs)))

	if progress == nil {
		progress = func(int) {}
	}
	ts := Timestamp(job.StartedAt)
	dir := filepath.Join(m.Root(), ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return GenerationRecord{}, m.metadataFailure(span, dir, err)
	}

	raw := job.Raw
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	record := GenerationRecord{
		Timestamp:   ts,
		Directory:   dir,
		ModelID:     job.ModelID,
		Params:      job.Params,
		RawResponse: raw,
	}
	responsePath := filepath.Join(dir, responseFile)
	if err := writeJSON(responsePath, map[string]any{"response": raw, "params": job.Params}); err != nil {
		return record, m.metadataFailure(span, responsePath, err)
	}
	paramsPath := filepath.Join(dir, paramsFile)
	if err := writeJSON(paramsPath, job.Params); err != nil {
		return record, m.metadataFailure(span, paramsPath, err)
	}

	log := m.logger.With().Str("job_id", job.ID).Str("dir", dir).Logger()
	total := len(job.OutputURLs)
	for i, artifactURL := range job.OutputURLs {
		name := fmt.Sprintf("image-%d.%s", i, extension(format, artifactURL))
		target := filepath.Join(dir, name)
		if err := m.fetch(ctx, artifactURL, target); err != nil {
			log.Error().Err(err).Int("index", i).Msg("artifact download failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return record, &DownloadError{
				Index:   i,
				URL:     artifactURL,
				Written: append([]string(nil), record.ArtifactPaths...),
				Err:     err,
			}
		}
		record.ArtifactPaths = append(record.ArtifactPaths, target)
		progress(80 + (i+1)*20/total)
		log.Debug().Int("index", i).Msg("artifact saved")
	}
	log.Info().Int("artifacts", total).Msg("generation saved")
	return record, nil
}

func (m *Materializer) metadataFailure(span trace.Span, file string, err error) *DownloadError {
	m.logger.Error().Err(err).Str("file", file).Msg("generation metadata write failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &DownloadError{Index: -1, File: file, Err: err}
}

func (m *Materializer) fetch(ctx context.Context, artifactURL, target string) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(target), err)
	}
	if _, err := m.downloader.Download(ctx, artifactURL, f); err != nil {
		f.Close()
		_ = os.Remove(target)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("close %s: %w", filepath.Base(target), err)
	}
	return nil
}

func writeJSON(target string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("materialize: encode %s: %w", filepath.Base(target), err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("materialize: write %s: %w", filepath.Base(target), err)
	}
	return nil
}

// extension picks the file suffix for an artifact: the requested output
// format when set, else the URL's own extension, else png.
func extension(format, artifactURL string) string {
	if ext := cleanExtension(format); ext != "" {
		return ext
	}
	if u, err := url.Parse(artifactURL); err == nil {
		if ext := cleanExtension(strings.TrimPrefix(path.Ext(u.Path), ".")); ext != "" {
			return ext
		}
	}
	return "png"
}

// cleanExtension keeps only lowercase alphanumerics so a format can never
// introduce path separators.
func cleanExtension(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
