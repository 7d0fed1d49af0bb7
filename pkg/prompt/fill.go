package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vyvo/pixelflow/pkg/form"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/shell"
)

// FormSession is the part of the shell session the prompts drive.
type FormSession interface {
	Models() []modelregistry.ModelDescriptor
	Model() modelregistry.ModelDescriptor
	SelectModel(id string) error
	Edit(paramID string, raw any) error
	Fields() []shell.Field
	Validate() []form.FieldError
}

// KeySession is the part of the shell session that manages credentials.
type KeySession interface {
	ValidateKey(ctx context.Context, key string) bool
	Keys() keystore.Keys
	SaveKeys(keys keystore.Keys) error
}

// ChooseModel asks which model to use, defaulting to the current one.
func ChooseModel(ctx context.Context, d Driver, s FormSession) error {
	models := s.Models()
	current := s.Model().ID
	options := make([]string, len(models))
	def := 0
	for i, m := range models {
		options[i] = fmt.Sprintf("%s (%s)", m.DisplayName, m.ID)
		if m.ID == current {
			def = i
		}
	}
	idx, err := d.Select(ctx, SelectConfig{Message: "Model", Options: options, DefaultIndex: def})
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(models) {
		return fmt.Errorf("prompt: no model selected")
	}
	return s.SelectModel(models[idx].ID)
}

// maxRounds bounds re-asking fields that keep failing validation.
const maxRounds = 5

// FillForm asks for every visible field in order. Visibility is re-read after
// each answer so fields gated on an earlier choice appear or disappear. Fields
// that fail validation are asked again.
func FillForm(ctx context.Context, d Driver, s FormSession) error {
	asked := make(map[string]bool)
	for {
		next, ok := nextField(s.Fields(), asked)
		if !ok {
			break
		}
		asked[next.Spec.ID] = true
		if err := askField(ctx, d, s, next); err != nil {
			return err
		}
	}

	for round := 0; round < maxRounds; round++ {
		problems := s.Validate()
		if len(problems) == 0 {
			return nil
		}
		fields := s.Fields()
		for _, problem := range problems {
			if err := d.Info(ctx, fmt.Sprintf("  %s", problem.Error())); err != nil {
				return err
			}
			for _, f := range fields {
				if f.Spec.ID == problem.Field {
					if err := askField(ctx, d, s, f); err != nil {
						return err
					}
				}
			}
		}
	}
	return errors.New("prompt: form still has invalid fields")
}

func nextField(fields []shell.Field, asked map[string]bool) (shell.Field, bool) {
	for _, f := range fields {
		if !asked[f.Spec.ID] {
			return f, true
		}
	}
	return shell.Field{}, false
}

func askField(ctx context.Context, d Driver, s FormSession, f shell.Field) error {
	p := f.Spec
	label := p.DisplayName
	if label == "" {
		label = p.ID
	}
	if p.Required {
		label += " *"
	}

	switch p.Kind {
	case modelregistry.KindSelect:
		def := indexOf(p.Constraints.Options, valueString(f.Value))
		idx, err := d.Select(ctx, SelectConfig{Message: label, Options: p.Constraints.Options, DefaultIndex: def, Help: p.Description})
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(p.Constraints.Options) {
			return s.Edit(p.ID, "")
		}
		return s.Edit(p.ID, p.Constraints.Options[idx])
	case modelregistry.KindCheckbox:
		def, _ := f.Value.(bool)
		ok, err := d.Confirm(ctx, ConfirmConfig{Message: label, Default: def, Help: p.Description})
		if err != nil {
			return err
		}
		return s.Edit(p.ID, ok)
	default:
		answer, err := d.Input(ctx, InputConfig{
			Message: label + rangeHint(p),
			Default: valueString(f.Value),
			Help:    p.Description,
			Validator: func(v string) error {
				v = strings.TrimSpace(v)
				if v == "" {
					if p.Required {
						return errors.New("this field is required")
					}
					return nil
				}
				if msg := form.CheckValue(p, v); msg != "" {
					return errors.New(msg)
				}
				return nil
			},
		})
		if err != nil {
			return err
		}
		return s.Edit(p.ID, strings.TrimSpace(answer))
	}
}

func rangeHint(p modelregistry.ParameterSpec) string {
	c := p.Constraints
	if c.Min == nil || c.Max == nil {
		return ""
	}
	return fmt.Sprintf(" (%s to %s)", formatFloat(*c.Min), formatFloat(*c.Max))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatFloat(t)
	}
	return fmt.Sprint(v)
}

// ConfigureKey asks for a Replicate key, checks it against the API and saves
// it when valid or when the user insists.
func ConfigureKey(ctx context.Context, d Driver, s KeySession) error {
	key, err := d.Password(ctx, InputConfig{
		Message: "Replicate API key",
		Help:    "Create one at https://replicate.com/account/api-tokens",
		Validator: func(v string) error {
			if strings.TrimSpace(v) == "" {
				return errors.New("a key is required")
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)

	if !s.ValidateKey(ctx, key) {
		save, err := d.Confirm(ctx, ConfirmConfig{Message: "The API rejected this key. Save it anyway?"})
		if err != nil {
			return err
		}
		if !save {
			return d.Info(ctx, "Key not saved.")
		}
	}
	keys := s.Keys()
	keys.Replicate = key
	if err := s.SaveKeys(keys); err != nil {
		return err
	}
	return d.Info(ctx, "Key saved.")
}

// Follow prints progress and status events until the job finishes and returns
// its outcome.
func Follow(w io.Writer, sub *jobs.Subscription) (jobs.Job, error) {
	lastStatus := ""
	for ev := range sub.Events() {
		switch ev.Kind {
		case jobs.EventProgress:
			fmt.Fprintf(w, "\r[%-20s] %3d%%", strings.Repeat("#", ev.Progress/5), ev.Progress)
		case jobs.EventStatus:
			if ev.Message != lastStatus {
				fmt.Fprintf(w, "\n%s\n", ev.Message)
				lastStatus = ev.Message
			}
		case jobs.EventDone:
			fmt.Fprintln(w)
			if ev.Job == nil {
				return jobs.Job{}, ev.Err
			}
			return *ev.Job, ev.Err
		}
	}
	return jobs.Job{}, errors.New("prompt: subscription closed without a result")
}

func indexOf(options []string, value string) int {
	for i, option := range options {
		if option == value {
			return i
		}
	}
	return -1
}
