package form

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vyvo/pixelflow/pkg/modelregistry"
)

func testModel(id string, params ...modelregistry.ParameterSpec) modelregistry.ModelDescriptor {
	return modelregistry.ModelDescriptor{
		ID:          id,
		EndpointURL: "https://example.com/" + id,
		Payload:     modelregistry.PayloadPolicy{Style: modelregistry.StyleModel},
		Parameters:  params,
	}
}

var (
	promptSpec = modelregistry.ParameterSpec{ID: "prompt", Kind: modelregistry.KindText, Required: true, Order: 0}
	aspectSpec = modelregistry.ParameterSpec{
		ID: "aspect_ratio", Kind: modelregistry.KindSelect, Default: "1:1", Order: 1,
		Constraints: modelregistry.Constraints{Options: []string{"custom", "1:1", "16:9"}},
	}
	seedSpec = modelregistry.ParameterSpec{ID: "seed", Kind: modelregistry.KindNumber, Order: 2}
)

func TestDeriveInitialStateSeedsDefaults(t *testing.T) {
	model := modelregistry.Default().Default()
	state := DeriveInitialState(model, nil)

	if state["model_variant"] != "1600M-1024px" {
		t.Fatalf("expected select default, got %v", state["model_variant"])
	}
	if _, ok := state["seed"]; ok {
		t.Fatalf("empty seed default must not be seeded")
	}
	if _, ok := state["negative_prompt"]; ok {
		t.Fatalf("empty text default must not be seeded")
	}
}

func TestDeriveInitialStateCarriesSharedKeys(t *testing.T) {
	from := testModel("a", promptSpec, aspectSpec, seedSpec)
	to := testModel("b", promptSpec, aspectSpec)

	prev := DeriveInitialState(from, nil)
	prev = ApplyEdit(from, prev, "prompt", "a fox")
	prev = ApplyEdit(from, prev, "aspect_ratio", "16:9")
	prev = ApplyEdit(from, prev, "seed", "42")

	got := DeriveInitialState(to, prev)
	want := State{"prompt": "a fox", "aspect_ratio": "16:9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected state after model switch (-want +got):\n%s", diff)
	}
}

func TestDeriveInitialStateSkipsHiddenDefaults(t *testing.T) {
	model, _ := modelregistry.Default().Get("black-forest-labs/flux-1.1-pro")
	state := DeriveInitialState(model, nil)
	if _, ok := state["width"]; ok {
		t.Fatalf("width is hidden unless aspect_ratio=custom and must not be seeded")
	}

	state = ApplyEdit(model, state, "aspect_ratio", "custom")
	if state["width"] != 1024 {
		t.Fatalf("expected width default once visible, got %v", state["width"])
	}
}

func TestApplyEditCoercesCheckbox(t *testing.T) {
	model, _ := modelregistry.Default().Get("black-forest-labs/flux-1.1-pro-ultra")
	state := DeriveInitialState(model, nil)

	state = ApplyEdit(model, state, "raw", "true")
	if state["raw"] != true {
		t.Fatalf("expected checkbox coerced to bool, got %#v", state["raw"])
	}
	state = ApplyEdit(model, state, "safety_tolerance", "5")
	if state["safety_tolerance"] != "5" {
		t.Fatalf("numeric fields must stay raw, got %#v", state["safety_tolerance"])
	}
	state = ApplyEdit(model, state, "safety_tolerance", "99")
	if state["safety_tolerance"] != "99" {
		t.Fatalf("engine must not clamp, got %#v", state["safety_tolerance"])
	}
}

func TestApplyEditDoesNotMutateInput(t *testing.T) {
	model := testModel("a", promptSpec)
	state := State{"prompt": "before"}
	_ = ApplyEdit(model, state, "prompt", "after")
	if state["prompt"] != "before" {
		t.Fatalf("ApplyEdit mutated its input")
	}
}

func TestVisibleParametersOrdered(t *testing.T) {
	model := testModel("a", seedSpec, promptSpec, aspectSpec)
	var ids []string
	for _, p := range VisibleParameters(model, State{}) {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"prompt", "aspect_ratio", "seed"}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestIsSubmittable(t *testing.T) {
	gated := modelregistry.ParameterSpec{
		ID: "width", Kind: modelregistry.KindNumber, Required: true, Order: 3,
		VisibleWhen: &modelregistry.VisibilityCondition{DependsOn: "aspect_ratio", Value: "custom"},
	}
	model := testModel("a", promptSpec, aspectSpec, gated)

	state := State{"prompt": "", "aspect_ratio": "1:1"}
	if IsSubmittable(model, state) {
		t.Fatalf("empty required prompt must block submission")
	}

	state = ApplyEdit(model, state, "prompt", "a fox")
	state = ApplyEdit(model, state, "aspect_ratio", "custom")
	if IsSubmittable(model, state) {
		t.Fatalf("visible required width is empty; expected not submittable")
	}

	state = ApplyEdit(model, state, "aspect_ratio", "16:9")
	if !IsSubmittable(model, state) {
		t.Fatalf("hidden required width must not block submission")
	}

	state = ApplyEdit(model, state, "prompt", "   ")
	if diff := cmp.Diff([]string{"prompt"}, MissingRequired(model, state)); diff != "" {
		t.Fatalf("unexpected missing fields (-want +got):\n%s", diff)
	}
}

func TestPruneDropsHiddenAndUnknown(t *testing.T) {
	model, _ := modelregistry.Default().Get("black-forest-labs/flux-pro")
	state := State{"prompt": "cake", "aspect_ratio": "1:1", "width": "512", "bogus": 1}

	got := Prune(model, state)
	want := State{"prompt": "cake", "aspect_ratio": "1:1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected pruned state (-want +got):\n%s", diff)
	}
}

func TestValidateConstraints(t *testing.T) {
	model, _ := modelregistry.Default().Get("black-forest-labs/flux-1.1-pro")
	state := DeriveInitialState(model, nil)
	state = ApplyEdit(model, state, "aspect_ratio", "custom")
	state = ApplyEdit(model, state, "width", "1000")
	state = ApplyEdit(model, state, "safety_tolerance", "9")
	state = ApplyEdit(model, state, "output_format", "gif")

	got := map[string]string{}
	for _, e := range Validate(model, state) {
		got[e.Field] = e.Message
	}
	want := map[string]string{
		"width":            "must be a multiple of 32",
		"safety_tolerance": "must be at most 6",
		"output_format":    `"gif" is not one of webp, jpg, png`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected validation errors (-want +got):\n%s", diff)
	}
}

func TestCheckValueRejectsNonFiniteNumbers(t *testing.T) {
	for _, v := range []any{"Inf", "-inf", "NaN", math.Inf(1), math.NaN(), "abc"} {
		if got := CheckValue(seedSpec, v); got != "must be a number" {
			t.Fatalf("CheckValue(%v) = %q, want must be a number", v, got)
		}
	}
	if got := CheckValue(seedSpec, "42"); got != "" {
		t.Fatalf("expected a plain integer to pass, got %q", got)
	}
}
