package payload

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/vyvo/pixelflow/pkg/form"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
)

// SeedField is always sent as an integer and only when explicitly provided.
const SeedField = "seed"

// ConfigurationError reports a submission that cannot be built from local state.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Request is the exact HTTP submission for a prediction.
type Request struct {
	ModelID string
	URL     string
	Header  http.Header
	Body    map[string]any
	// Input is the filtered parameter map that ended up in Body.
	Input map[string]any
}

// Build maps a model and its form state to the wire request.
func Build(model modelregistry.ModelDescriptor, state form.State, apiKey string) (Request, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Request{}, &ConfigurationError{Reason: "API key is not set. Please add it in Settings."}
	}

	input, err := Input(model, state)
	if err != nil {
		return Request{}, err
	}

	for _, p := range form.VisibleParameters(model, state) {
		if p.Required && form.IsEmpty(state[p.ID]) {
			return Request{}, &ConfigurationError{Field: p.ID, Reason: "is required"}
		}
	}
	if len(input) == 0 {
		return Request{}, &ConfigurationError{Reason: fmt.Sprintf("model %s has no parameters populated", model.ID)}
	}

	body := map[string]any{"input": input}
	if model.Payload.Style == modelregistry.StyleVersioned {
		body["version"] = model.Version
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("Content-Type", "application/json")

	return Request{
		ModelID: model.ID,
		URL:     model.EndpointURL,
		Header:  header,
		Body:    body,
		Input:   input,
	}, nil
}

// Input returns the coerced, filtered input map without wrapping.
func Input(model modelregistry.ModelDescriptor, state form.State) (map[string]any, error) {
	input := map[string]any{}
	for _, p := range form.VisibleParameters(model, state) {
		raw, ok := state[p.ID]
		if !ok || form.IsEmpty(raw) {
			continue
		}
		v, err := coerce(p, raw)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if !model.Payload.Allows(p.ID) {
			continue
		}
		input[p.ID] = v
	}
	return input, nil
}

// coerce converts a raw form value according to the parameter kind only.
func coerce(p modelregistry.ParameterSpec, raw any) (any, error) {
	if p.ID == SeedField {
		return coerceSeed(raw)
	}
	switch p.Kind {
	case modelregistry.KindNumber, modelregistry.KindRange:
		f, err := toFloat(raw)
		if err != nil {
			return nil, &ConfigurationError{Field: p.ID, Reason: "must be a number"}
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case modelregistry.KindCheckbox:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, &ConfigurationError{Field: p.ID, Reason: "must be true or false"}
			}
			return b, nil
		}
		return nil, &ConfigurationError{Field: p.ID, Reason: "must be true or false"}
	default:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	}
}

// Seeds travel as int64; the bounds are exact float64 values of ±2^63.
const (
	minSeed = -9223372036854775808.0
	maxSeed = 9223372036854775808.0
)

func coerceSeed(raw any) (any, error) {
	f, err := toFloat(raw)
	if err != nil || f != math.Trunc(f) || f < minSeed || f >= maxSeed {
		return nil, &ConfigurationError{Field: SeedField, Reason: "must be an integer"}
	}
	return int64(f), nil
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported value %T", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", raw)
	}
	return f, nil
}
