// Package form derives and edits the per-model parameter state behind the
// generation form. Values are kept raw; numeric coercion belongs to payload.
package form

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vyvo/pixelflow/pkg/modelregistry"
)

// State maps parameter ids to raw UI values (string, number or bool).
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// DeriveInitialState seeds defaults for the model's visible parameters and
// carries over values for ids the previous model shared.
func DeriveInitialState(model modelregistry.ModelDescriptor, previous State) State {
	state := State{}
	for _, p := range model.Parameters {
		if p.Default == nil {
			continue
		}
		if s, ok := p.Default.(string); ok && s == "" {
			continue
		}
		state[p.ID] = p.Default
	}
	for id, v := range previous {
		if model.HasParameter(id) {
			state[id] = v
		}
	}
	// Defaults of fields hidden under the resulting state are not seeded.
	for _, p := range model.Parameters {
		if _, carried := previous[p.ID]; carried {
			continue
		}
		if !IsVisible(model, state, p) {
			delete(state, p.ID)
		}
	}
	return state
}

// ApplyEdit returns a new state with the edit applied. Checkbox values are
// coerced to bool; every other kind keeps the raw value.
func ApplyEdit(model modelregistry.ModelDescriptor, state State, paramID string, raw any) State {
	next := state.Clone()
	spec, ok := model.Parameter(paramID)
	if !ok {
		return next
	}
	if spec.Kind == modelregistry.KindCheckbox {
		next[paramID] = toBool(raw)
	} else {
		next[paramID] = raw
	}
	// Fields that just became visible start from their default when unset.
	for _, p := range model.Parameters {
		if _, set := next[p.ID]; set || p.Default == nil || p.VisibleWhen == nil {
			continue
		}
		if IsVisible(model, next, p) {
			next[p.ID] = p.Default
		}
	}
	return next
}

// IsVisible evaluates the parameter's visibility condition against state.
func IsVisible(model modelregistry.ModelDescriptor, state State, p modelregistry.ParameterSpec) bool {
	return isVisible(model, state, p, map[string]bool{})
}

func isVisible(model modelregistry.ModelDescriptor, state State, p modelregistry.ParameterSpec, seen map[string]bool) bool {
	cond := p.VisibleWhen
	if cond == nil {
		return true
	}
	if seen[p.ID] {
		return false
	}
	seen[p.ID] = true
	// A field gated on a hidden field is hidden too.
	if dep, ok := model.Parameter(cond.DependsOn); ok && !isVisible(model, state, dep, seen) {
		return false
	}
	current, ok := state[cond.DependsOn]
	if !ok {
		return false
	}
	return sameValue(current, cond.Value)
}

// VisibleParameters returns the currently visible parameters ordered by Order.
func VisibleParameters(model modelregistry.ModelDescriptor, state State) []modelregistry.ParameterSpec {
	var out []modelregistry.ParameterSpec
	for _, p := range modelregistry.SortedParameters(model.Parameters) {
		if IsVisible(model, state, p) {
			out = append(out, p)
		}
	}
	return out
}

// IsSubmittable is true iff every required visible parameter has a value.
func IsSubmittable(model modelregistry.ModelDescriptor, state State) bool {
	return len(MissingRequired(model, state)) == 0
}

// MissingRequired lists required visible parameters that are still empty.
func MissingRequired(model modelregistry.ModelDescriptor, state State) []string {
	var missing []string
	for _, p := range VisibleParameters(model, state) {
		if p.Required && IsEmpty(state[p.ID]) {
			missing = append(missing, p.ID)
		}
	}
	return missing
}

// Prune drops keys that are unknown to the model or hidden under state.
func Prune(model modelregistry.ModelDescriptor, state State) State {
	out := State{}
	for _, p := range VisibleParameters(model, state) {
		if v, ok := state[p.ID]; ok {
			out[p.ID] = v
		}
	}
	return out
}

// IsEmpty reports whether v counts as "not provided".
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case nil:
		return false
	}
	return fmt.Sprint(raw) != "0"
}
