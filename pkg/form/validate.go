package form

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vyvo/pixelflow/pkg/modelregistry"
)

// FieldError describes a constraint violation on one visible field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks visible, non-empty values against their constraints. It
// never mutates or clamps the state.
func Validate(model modelregistry.ModelDescriptor, state State) []FieldError {
	var errs []FieldError
	for _, p := range VisibleParameters(model, state) {
		v, ok := state[p.ID]
		if !ok || IsEmpty(v) {
			if p.Required {
				errs = append(errs, FieldError{Field: p.ID, Message: "is required"})
			}
			continue
		}
		if msg := CheckValue(p, v); msg != "" {
			errs = append(errs, FieldError{Field: p.ID, Message: msg})
		}
	}
	return errs
}

// CheckValue returns a message describing why v violates p's constraints, or "".
func CheckValue(p modelregistry.ParameterSpec, v any) string {
	switch p.Kind {
	case modelregistry.KindSelect:
		s := fmt.Sprint(v)
		for _, opt := range p.Constraints.Options {
			if opt == s {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of %s", s, strings.Join(p.Constraints.Options, ", "))
	case modelregistry.KindNumber, modelregistry.KindRange:
		n, ok := numeric(v)
		if !ok {
			return "must be a number"
		}
		c := p.Constraints
		if c.Min != nil && n < *c.Min {
			return fmt.Sprintf("must be at least %v", *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return fmt.Sprintf("must be at most %v", *c.Max)
		}
		if c.Step != nil && *c.Step > 0 {
			base := 0.0
			if c.Min != nil {
				base = *c.Min
			}
			steps := (n - base) / *c.Step
			if math.Abs(steps-math.Round(steps)) > 1e-9 {
				return fmt.Sprintf("must be a multiple of %v", *c.Step)
			}
		}
	}
	return ""
}

// numeric reports v as a finite float64.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}
