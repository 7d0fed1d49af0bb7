package modelregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// InputSchemaName is the component the prediction API publishes model inputs under.
const InputSchemaName = "Input"

// ImportOptions identifies the model an OpenAPI input schema belongs to.
type ImportOptions struct {
	ID          string
	DisplayName string
	Description string
	EndpointURL string
	Version     string
	Style       PayloadStyle
}

// FromOpenAPI builds a descriptor from a model's published OpenAPI document.
// Property order follows x-order, falling back to property name.
func FromOpenAPI(ctx context.Context, opts ImportOptions, doc []byte) (ModelDescriptor, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	spec, err := loader.LoadFromData(doc)
	if err != nil {
		return ModelDescriptor{}, fmt.Errorf("load openapi document: %w", err)
	}
	if spec.Components == nil || spec.Components.Schemas[InputSchemaName] == nil || spec.Components.Schemas[InputSchemaName].Value == nil {
		return ModelDescriptor{}, fmt.Errorf("openapi document has no %s schema", InputSchemaName)
	}
	input := spec.Components.Schemas[InputSchemaName].Value

	required := make(map[string]bool, len(input.Required))
	for _, name := range input.Required {
		required[name] = true
	}

	names := make([]string, 0, len(input.Properties))
	for name := range input.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	type ordered struct {
		spec  ParameterSpec
		order int
	}
	items := make([]ordered, 0, len(names))
	for i, name := range names {
		ref := input.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		p := parameterFromSchema(name, ref.Value)
		p.Required = required[name]
		order, ok := extensionInt(ref.Value.Extensions["x-order"])
		if !ok {
			order = len(names) + i
		}
		items = append(items, ordered{spec: p, order: order})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].order < items[j].order })

	style := opts.Style
	if style == "" {
		style = StyleModel
		if opts.Version != "" {
			style = StyleVersioned
		}
	}
	model := ModelDescriptor{
		ID:            opts.ID,
		DisplayName:   opts.DisplayName,
		Description:   opts.Description,
		EndpointURL:   opts.EndpointURL,
		Version:       opts.Version,
		SchemaVersion: spec.OpenAPI,
		Payload:       PayloadPolicy{Style: style},
	}
	if model.DisplayName == "" {
		model.DisplayName = opts.ID
	}
	// Renumber densely so orders stay unique even when x-order values collide.
	for i, item := range items {
		item.spec.Order = i
		model.Parameters = append(model.Parameters, item.spec)
	}
	if err := Validate(model); err != nil {
		return ModelDescriptor{}, err
	}
	return model, nil
}

func parameterFromSchema(name string, schema *openapi3.Schema) ParameterSpec {
	p := ParameterSpec{
		ID:          name,
		DisplayName: displayName(name, schema.Title),
		Description: schema.Description,
		Default:     schema.Default,
		Kind:        KindText,
	}

	enum := schema.Enum
	if len(enum) == 0 {
		for _, sub := range schema.AllOf {
			if sub != nil && sub.Value != nil && len(sub.Value.Enum) > 0 {
				enum = sub.Value.Enum
				break
			}
		}
	}

	switch {
	case len(enum) > 0:
		p.Kind = KindSelect
		for _, v := range enum {
			p.Constraints.Options = append(p.Constraints.Options, fmt.Sprint(v))
		}
		if p.Default != nil {
			p.Default = fmt.Sprint(p.Default)
		}
	case schema.Type.Is(openapi3.TypeBoolean):
		p.Kind = KindCheckbox
	case schema.Type.Is(openapi3.TypeInteger), schema.Type.Is(openapi3.TypeNumber):
		p.Kind = KindNumber
		p.Constraints.Min = schema.Min
		p.Constraints.Max = schema.Max
		if schema.MultipleOf != nil {
			p.Constraints.Step = schema.MultipleOf
		} else if schema.Type.Is(openapi3.TypeInteger) {
			p.Constraints.Step = num(1)
		}
		if schema.Min != nil && schema.Max != nil {
			p.Kind = KindRange
		}
	case schema.Format == "uri":
		p.Kind = KindImage
	}
	return p
}

func displayName(name, title string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func extensionInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i), true
		}
	case json.RawMessage:
		var i int
		if err := json.Unmarshal(n, &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
