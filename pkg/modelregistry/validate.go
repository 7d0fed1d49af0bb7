package modelregistry

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the structural invariants of a model schema.
func Validate(m ModelDescriptor) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("modelregistry: model id is required")
	}
	if strings.TrimSpace(m.EndpointURL) == "" {
		return fmt.Errorf("modelregistry: model %q: endpoint is required", m.ID)
	}
	switch m.Payload.Style {
	case StyleModel:
	case StyleVersioned:
		if strings.TrimSpace(m.Version) == "" {
			return fmt.Errorf("modelregistry: model %q: versioned style requires a version", m.ID)
		}
	default:
		return fmt.Errorf("modelregistry: model %q: unknown payload style %q", m.ID, m.Payload.Style)
	}

	ids := make(map[string]bool, len(m.Parameters))
	orders := make(map[int]string, len(m.Parameters))
	for _, p := range m.Parameters {
		if p.ID == "" {
			return fmt.Errorf("modelregistry: model %q: parameter id is required", m.ID)
		}
		if ids[p.ID] {
			return fmt.Errorf("modelregistry: model %q: duplicate parameter %q", m.ID, p.ID)
		}
		ids[p.ID] = true
		if other, dup := orders[p.Order]; dup {
			return fmt.Errorf("modelregistry: model %q: parameters %q and %q share order %d", m.ID, other, p.ID, p.Order)
		}
		orders[p.Order] = p.ID
		if err := validateKind(p); err != nil {
			return fmt.Errorf("modelregistry: model %q: %w", m.ID, err)
		}
	}

	for _, p := range m.Parameters {
		if p.VisibleWhen == nil {
			continue
		}
		if p.VisibleWhen.DependsOn == p.ID {
			return fmt.Errorf("modelregistry: model %q: parameter %q depends on itself", m.ID, p.ID)
		}
		if !ids[p.VisibleWhen.DependsOn] {
			return fmt.Errorf("modelregistry: model %q: parameter %q depends on unknown %q", m.ID, p.ID, p.VisibleWhen.DependsOn)
		}
	}
	return nil
}

func validateKind(p ParameterSpec) error {
	switch p.Kind {
	case KindText, KindImage, KindCheckbox:
	case KindNumber, KindRange:
		c := p.Constraints
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("parameter %q: min %v exceeds max %v", p.ID, *c.Min, *c.Max)
		}
		if c.Step != nil && *c.Step <= 0 {
			return fmt.Errorf("parameter %q: step must be positive", p.ID)
		}
	case KindSelect:
		if len(p.Constraints.Options) == 0 {
			return fmt.Errorf("parameter %q: select requires options", p.ID)
		}
		if def, ok := p.Default.(string); ok && def != "" && !contains(p.Constraints.Options, def) {
			return fmt.Errorf("parameter %q: default %q is not an option", p.ID, def)
		}
	default:
		return fmt.Errorf("parameter %q: unknown kind %q", p.ID, p.Kind)
	}
	return nil
}

// SortedParameters returns the parameters ordered by Order. Ties keep declaration order.
func SortedParameters(params []ParameterSpec) []ParameterSpec {
	out := append([]ParameterSpec(nil), params...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
