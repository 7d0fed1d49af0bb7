package modelregistry

// Kind enumerates the input widgets a parameter can be rendered with.
type Kind string

const (
	KindText     Kind = "text"
	KindNumber   Kind = "number"
	KindSelect   Kind = "select"
	KindRange    Kind = "range"
	KindCheckbox Kind = "checkbox"
	KindImage    Kind = "image"
)

// Numeric reports whether values of this kind are sent as numbers.
func (k Kind) Numeric() bool {
	return k == KindNumber || k == KindRange
}

// PayloadStyle selects how the input map is wrapped on the wire.
type PayloadStyle string

const (
	// StyleModel posts {input} to a model-name keyed endpoint.
	StyleModel PayloadStyle = "model"
	// StyleVersioned posts {version, input} to the generic predictions endpoint.
	StyleVersioned PayloadStyle = "versioned"
)

// PayloadPolicy carries the per-model request shaping rules.
type PayloadPolicy struct {
	Style PayloadStyle `json:"style" yaml:"style"`
	// AllowedFields, when non-empty, is the final filter applied to the input map.
	AllowedFields []string `json:"allowed_fields,omitempty" yaml:"allowed_fields,omitempty"`
}

// Allows reports whether field id survives the allow-list.
func (p PayloadPolicy) Allows(id string) bool {
	if len(p.AllowedFields) == 0 {
		return true
	}
	for _, f := range p.AllowedFields {
		if f == id {
			return true
		}
	}
	return false
}

// Constraints bounds what a parameter accepts at the input boundary.
type Constraints struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step    *float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// VisibilityCondition hides a parameter unless DependsOn currently equals Value.
type VisibilityCondition struct {
	DependsOn string `json:"depends_on" yaml:"depends_on"`
	Value     any    `json:"value" yaml:"value"`
}

// ParameterSpec describes one user-configurable model input.
type ParameterSpec struct {
	ID          string               `json:"id" yaml:"id"`
	DisplayName string               `json:"display_name" yaml:"display_name"`
	Kind        Kind                 `json:"kind" yaml:"kind"`
	Required    bool                 `json:"required" yaml:"required"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any                  `json:"default,omitempty" yaml:"default,omitempty"`
	Constraints Constraints          `json:"constraints" yaml:"constraints"`
	Order       int                  `json:"order" yaml:"order"`
	VisibleWhen *VisibilityCondition `json:"visible_when,omitempty" yaml:"visible_when,omitempty"`
}

// ModelDescriptor identifies one backend model variant and its input schema.
type ModelDescriptor struct {
	ID            string          `json:"id" yaml:"id"`
	DisplayName   string          `json:"display_name" yaml:"display_name"`
	Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
	EndpointURL   string          `json:"endpoint_url" yaml:"endpoint_url"`
	Version       string          `json:"version,omitempty" yaml:"version,omitempty"`
	SchemaVersion string          `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	Parameters    []ParameterSpec `json:"parameters" yaml:"parameters"`
	Payload       PayloadPolicy   `json:"payload" yaml:"payload"`
}

// Parameter returns the spec with the given id.
func (m ModelDescriptor) Parameter(id string) (ParameterSpec, bool) {
	for _, p := range m.Parameters {
		if p.ID == id {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// HasParameter reports whether id belongs to the model's schema.
func (m ModelDescriptor) HasParameter(id string) bool {
	_, ok := m.Parameter(id)
	return ok
}

// clone copies the slices so callers cannot mutate registry state.
func (m ModelDescriptor) clone() ModelDescriptor {
	out := m
	out.Parameters = make([]ParameterSpec, len(m.Parameters))
	for i, p := range m.Parameters {
		p.Constraints.Options = append([]string(nil), p.Constraints.Options...)
		if p.VisibleWhen != nil {
			cond := *p.VisibleWhen
			p.VisibleWhen = &cond
		}
		out.Parameters[i] = p
	}
	out.Payload.AllowedFields = append([]string(nil), m.Payload.AllowedFields...)
	return out
}
