// Package experiment turns a YAML experiment description into validated job
// submissions: an ordered list of task steps sharing one name, scheduled by
// relative waits or anchored offsets.
package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"labd/internal/scheduler"
	"labd/internal/task"
)

// Step is one entry of an experiment.
//
// At most one of Wait / Delay / AtTime may be set (all in seconds): AtTime
// anchors the step relative to submission time; Wait (alias Delay) is
// relative to the previous step's fire time. A step with none fires at the
// previous step's time.
type Step struct {
	Task       string      `yaml:"task"`
	Wait       *float64    `yaml:"wait,omitempty"`
	Delay      *float64    `yaml:"delay,omitempty"` // accepted alias for wait
	AtTime     *float64    `yaml:"at_time,omitempty"`
	Parameters task.Params `yaml:"parameters,omitempty"`
}

// wait folds the delay alias into one relative offset.
func (s Step) wait() *float64 {
	if s.Wait != nil {
		return s.Wait
	}
	return s.Delay
}

type Experiment struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// document mirrors the on-disk shape: {experiment: {name, steps}}.
type document struct {
	Experiment Experiment `yaml:"experiment"`
}

func Load(path string) (*Experiment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Experiment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty experiment document")
		}
		return nil, fmt.Errorf("experiment parse: %w", err)
	}
	if len(doc.Experiment.Steps) == 0 {
		return nil, errors.New("experiment has no steps")
	}
	return &doc.Experiment, nil
}

// ScheduleTimes computes the fire time of every step. at_time anchors to
// now; wait accumulates from the previous step's time.
func (e *Experiment) ScheduleTimes(now time.Time) []time.Time {
	out := make([]time.Time, len(e.Steps))
	last := now
	for i, s := range e.Steps {
		var t time.Time
		switch {
		case s.AtTime != nil:
			t = now.Add(secs(*s.AtTime))
		case s.wait() != nil:
			t = last.Add(secs(*s.wait()))
		default:
			t = last
		}
		out[i] = t
		last = t
	}
	return out
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// StepReport is the validation outcome of one step, itemized for display.
type StepReport struct {
	Step     int // 1-based
	Task     string
	OK       bool
	Errors   []string
	Warnings []string
}

func (r StepReport) String() string {
	status := "ok"
	if !r.OK {
		status = "invalid"
	}
	msg := fmt.Sprintf("step %d: %s: %s", r.Step, r.Task, status)
	if issues := append(append([]string{}, r.Errors...), r.Warnings...); len(issues) > 0 {
		msg += " (" + strings.Join(issues, "; ") + ")"
	}
	return msg
}

// Validate checks every step against the registry. The experiment is
// submittable only when all reports are OK.
func (e *Experiment) Validate(reg *task.Registry) []StepReport {
	out := make([]StepReport, 0, len(e.Steps))
	for i, s := range e.Steps {
		rep := reg.Validate(s.Task, s.Parameters)
		out = append(out, StepReport{
			Step:     i + 1,
			Task:     s.Task,
			OK:       rep.OK,
			Errors:   rep.Errors,
			Warnings: rep.Warnings,
		})
	}
	return out
}

// ErrInvalid wraps an all-or-nothing submission rejection; the itemized
// reports carry the per-step reasons.
var ErrInvalid = errors.New("experiment validation failed")

// Submit validates all steps, then schedules them in order. Submission is
// all-or-nothing: any invalid step rejects the whole experiment, and a
// persistence failure mid-way cancels the jobs already added.
func (e *Experiment) Submit(tk *scheduler.Timekeeper, reg *task.Registry, now time.Time) ([]string, error) {
	reports := e.Validate(reg)
	var bad []string
	for _, r := range reports {
		if !r.OK {
			bad = append(bad, r.String())
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(bad, "; "))
	}

	times := e.ScheduleTimes(now)
	ids := make([]string, 0, len(e.Steps))
	for i, s := range e.Steps {
		id, err := tk.AddJob(s.Task, times[i], s.Parameters)
		if err != nil {
			for _, added := range ids {
				tk.CancelJob(added)
			}
			return nil, fmt.Errorf("step %d (%s): %w", i+1, s.Task, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
