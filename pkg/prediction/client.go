package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultBaseURL is the hosted prediction API root.
const DefaultBaseURL = "https://api.replicate.com/v1"

var tracer = otel.Tracer("github.com/vyvo/pixelflow/pkg/prediction")

// ErrNotFound is returned when the remote API reports a missing resource.
var ErrNotFound = errors.New("resource not found")

// RemoteRequestError wraps non-2xx responses, transport failures and
// malformed bodies from the prediction API.
type RemoteRequestError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteRequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s failed: %d - %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + " failed"
}

func (e *RemoteRequestError) Unwrap() error { return e.Err }

// Options configures the prediction client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Client interacts with the hosted prediction API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new prediction client with sane defaults.
func NewClient(opts Options) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, httpClient: httpClient, logger: opts.Logger}
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit posts a prediction request and returns the initial prediction state.
func (c *Client) Submit(ctx context.Context, endpoint string, header http.Header, body any) (Prediction, error) {
	ctx, span := tracer.Start(ctx, "prediction.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", endpoint))

	encoded, err := json.Marshal(body)
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal prediction request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Prediction{}, fmt.Errorf("create submit request: %w", err)
	}
	copyHeader(httpReq.Header, header)
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("url", endpoint).RawJSON("body", encoded).Msg("submitting prediction")
	p, err := c.doPrediction(httpReq, "submit prediction")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Prediction{}, err
	}
	span.SetAttributes(attribute.String("prediction.id", p.ID), attribute.String("prediction.status", string(p.Status)))
	return p, nil
}

// Get fetches prediction state from its polling URL.
func (c *Client) Get(ctx context.Context, pollURL string, header http.Header) (Prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("create get prediction request: %w", err)
	}
	if auth := header.Get("Authorization"); auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}
	return c.doPrediction(httpReq, "get prediction")
}

// Download streams a binary artifact into w.
func (c *Client) Download(ctx context.Context, artifactURL string, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "prediction.Download")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", artifactURL))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &RemoteRequestError{Op: "download artifact", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, &RemoteRequestError{Op: "download artifact", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("copy artifact body: %w", err)
	}
	span.SetAttributes(attribute.Int64("artifact.bytes", n))
	return n, nil
}

// ValidateKey reports whether the API accepts key. Any failure counts as invalid.
func (c *Client) ValidateKey(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Msg("api key validation request failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode == http.StatusOK
}

func (c *Client) doPrediction(httpReq *http.Request, op string) (Prediction, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Prediction{}, &RemoteRequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prediction{}, &RemoteRequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remoteErr := &RemoteRequestError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
		if resp.StatusCode == http.StatusNotFound {
			remoteErr.Err = ErrNotFound
		}
		return Prediction{}, remoteErr
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return Prediction{}, &RemoteRequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode prediction: %w", err)}
	}
	p.Raw = json.RawMessage(body)
	return p, nil
}

func errorMessage(body []byte) string {
	if len(body) > 4<<10 {
		body = body[:4<<10]
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if msg := env.message(); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
