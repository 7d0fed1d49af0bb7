package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrAborted is returned when the user presses Ctrl+C at a prompt.
var ErrAborted = errors.New("prompt: aborted")

// Model lists are long; show this many rows before scrolling.
const defaultPageSize = 12

type InputConfig struct {
	Message   string
	Default   string
	Help      string
	Validator func(string) error
}

type ConfirmConfig struct {
	Message string
	Default bool
	Help    string
}

// SelectConfig describes a single choice. DefaultIndex outside Options
// leaves the cursor on the first entry.
type SelectConfig struct {
	Message      string
	Options      []string
	DefaultIndex int
	Help         string
	PageSize     int
}

// Driver is the terminal as seen by the form-filling flow. Tests replace it
// with a scripted fake.
type Driver interface {
	Input(ctx context.Context, cfg InputConfig) (string, error)
	Password(ctx context.Context, cfg InputConfig) (string, error)
	Confirm(ctx context.Context, cfg ConfirmConfig) (bool, error)
	Select(ctx context.Context, cfg SelectConfig) (int, error)
	Info(ctx context.Context, msg string) error
}

// SurveyDriver renders prompts with survey on the process terminal.
type SurveyDriver struct {
	out  io.Writer
	opts []survey.AskOpt
}

// NewSurveyDriver prompts on stdin/stdout and prints Info lines to out
// (stdout when nil).
func NewSurveyDriver(out io.Writer) *SurveyDriver {
	if out == nil {
		out = os.Stdout
	}
	return &SurveyDriver{
		out:  out,
		opts: []survey.AskOpt{survey.WithStdio(os.Stdin, os.Stdout, os.Stderr)},
	}
}

// ask runs one survey prompt. survey cannot be interrupted mid-read, so ctx
// is only checked before the prompt is shown.
func (d *SurveyDriver) ask(ctx context.Context, p survey.Prompt, answer any, validate func(string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := d.opts
	if validate != nil {
		opts = append(opts[:len(opts):len(opts)], survey.WithValidator(func(ans any) error {
			s, _ := ans.(string)
			return validate(s)
		}))
	}
	err := survey.AskOne(p, answer, opts...)
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}

func (d *SurveyDriver) Input(ctx context.Context, cfg InputConfig) (string, error) {
	var s string
	err := d.ask(ctx, &survey.Input{Message: cfg.Message, Default: cfg.Default, Help: cfg.Help}, &s, cfg.Validator)
	return s, err
}

// Password never echoes and ignores cfg.Default.
func (d *SurveyDriver) Password(ctx context.Context, cfg InputConfig) (string, error) {
	var s string
	err := d.ask(ctx, &survey.Password{Message: cfg.Message, Help: cfg.Help}, &s, cfg.Validator)
	return s, err
}

func (d *SurveyDriver) Confirm(ctx context.Context, cfg ConfirmConfig) (bool, error) {
	var yes bool
	err := d.ask(ctx, &survey.Confirm{Message: cfg.Message, Default: cfg.Default, Help: cfg.Help}, &yes, nil)
	return yes, err
}

func (d *SurveyDriver) Select(ctx context.Context, cfg SelectConfig) (int, error) {
	if len(cfg.Options) == 0 {
		return -1, fmt.Errorf("prompt: %q has no options", cfg.Message)
	}
	sel := &survey.Select{
		Message:  cfg.Message,
		Options:  cfg.Options,
		Help:     cfg.Help,
		PageSize: cfg.PageSize,
	}
	if sel.PageSize <= 0 {
		sel.PageSize = defaultPageSize
	}
	if cfg.DefaultIndex >= 0 && cfg.DefaultIndex < len(cfg.Options) {
		sel.Default = cfg.Options[cfg.DefaultIndex]
	}
	// survey writes the chosen index into an int answer.
	var idx int
	if err := d.ask(ctx, sel, &idx, nil); err != nil {
		return -1, err
	}
	return idx, nil
}

func (d *SurveyDriver) Info(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(d.out, msg)
	return err
}
