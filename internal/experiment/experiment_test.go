package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labd/internal/scheduler"
	"labd/internal/statestore"
	"labd/internal/task"
	logx "labd/pkg/logx"
)

const sampleYAML = `
experiment:
  name: frequency sweep check
  steps:
    - task: DG4202_TOGGLE
      parameters:
        channel: 1
        status: true
    - task: DG4202_TOGGLE
      wait: 2.5
      parameters:
        channel: 1
        status: false
    - task: EDUX1002A_AUTO
      at_time: 10
      parameters: {}
`

func testRegistry(t *testing.T) *task.Registry {
	t.Helper()
	reg := task.NewRegistry()
	noop := func(context.Context, task.Params) error { return nil }
	defs := []*task.Definition{
		{
			Name:    "DG4202_TOGGLE",
			Display: "Toggle Output",
			Params: []task.ParamSpec{
				{Name: "channel", Type: task.TypeInt, Constraint: task.OneOf(1, 2)},
				{Name: "status", Type: task.TypeBool},
			},
			Run: noop,
		},
		{
			Name:    "EDUX1002A_AUTO",
			Display: "Press Auto",
			Params: []task.ParamSpec{
				{Name: "press", Type: task.TypeString, Optional: true, Default: "OK"},
			},
			Run: noop,
		},
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg
}

func TestParse(t *testing.T) {
	t.Parallel()

	e, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Name != "frequency sweep check" {
		t.Fatalf("Name = %q", e.Name)
	}
	if len(e.Steps) != 3 {
		t.Fatalf("Steps = %d", len(e.Steps))
	}
	if e.Steps[0].Wait != nil || e.Steps[0].AtTime != nil {
		t.Fatalf("step 1 should have no timing fields")
	}
	if e.Steps[1].Wait == nil || *e.Steps[1].Wait != 2.5 {
		t.Fatalf("step 2 wait = %v", e.Steps[1].Wait)
	}
	if e.Steps[2].AtTime == nil || *e.Steps[2].AtTime != 10 {
		t.Fatalf("step 3 at_time = %v", e.Steps[2].AtTime)
	}
	if e.Steps[0].Parameters["channel"] != 1 || e.Steps[0].Parameters["status"] != true {
		t.Fatalf("step 1 parameters = %v", e.Steps[0].Parameters)
	}
}

func TestParseRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "", want: "empty experiment document"},
		{name: "no steps", yaml: "experiment:\n  name: x\n", want: "no steps"},
		{name: "unknown field", yaml: "experiment:\n  name: x\n  stepz: []\n", want: "parse"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "exp.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(e.Steps) != 3 {
		t.Fatalf("Steps = %d", len(e.Steps))
	}
}

func TestScheduleTimes(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	e := &Experiment{Steps: []Step{
		{Task: "a"},               // fires at now
		{Task: "b", Wait: f(2)},   // now + 2s
		{Task: "c", Wait: f(3)},   // now + 5s (cumulative)
		{Task: "d", AtTime: f(1)}, // now + 1s (anchored, not cumulative)
		{Task: "e"},               // same as previous: now + 1s
		{Task: "f", Wait: f(4)},   // now + 5s (relative to the anchor)
	}}

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	got := e.ScheduleTimes(now)
	want := []time.Time{
		now,
		now.Add(2 * time.Second),
		now.Add(5 * time.Second),
		now.Add(1 * time.Second),
		now.Add(1 * time.Second),
		now.Add(5 * time.Second),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("step %d time = %v, want %v", i+1, got[i], want[i])
		}
	}

	// delay is an accepted alias for wait.
	e = &Experiment{Steps: []Step{
		{Task: "a", Delay: f(3)},
		{Task: "b", Delay: f(2)},
	}}
	got = e.ScheduleTimes(now)
	if !got[0].Equal(now.Add(3*time.Second)) || !got[1].Equal(now.Add(5*time.Second)) {
		t.Fatalf("delay alias times = %v", got)
	}
}

func TestValidateItemizesSteps(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	e := &Experiment{Steps: []Step{
		{Task: "DG4202_TOGGLE", Parameters: task.Params{"channel": 1, "status": true}},
		{Task: "DG4202_TOGGLE", Parameters: task.Params{"channel": 1}},
		{Task: "UNKNOWN_TASK"},
	}}

	reports := e.Validate(reg)
	if len(reports) != 3 {
		t.Fatalf("reports = %d", len(reports))
	}
	if !reports[0].OK {
		t.Fatalf("step 1 should validate: %v", reports[0].Errors)
	}
	if reports[1].OK || !strings.Contains(reports[1].String(), "missing required param: status") {
		t.Fatalf("step 2 report = %s", reports[1])
	}
	if reports[2].OK || !strings.Contains(reports[2].String(), "task function not found") {
		t.Fatalf("step 3 report = %s", reports[2])
	}
}

func testTimekeeper(t *testing.T, reg *task.Registry) *scheduler.Timekeeper {
	t.Helper()
	dir := t.TempDir()
	store, err := statestore.Open(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	archive, err := scheduler.OpenArchive(scheduler.ArchiveConfig{Path: filepath.Join(dir, "archive.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	tk, err := scheduler.New(scheduler.Config{}, reg, store, archive, logx.Nop())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return tk
}

func TestSubmitAllOrNothing(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	tk := testTimekeeper(t, reg)

	e, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	now := time.Now().Add(time.Hour)
	ids, err := e.Submit(tk, reg, now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v", ids)
	}
	if got := len(tk.Jobs()); got != 3 {
		t.Fatalf("pending = %d", got)
	}
}

func TestSubmitRejectsInvalidStep(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	tk := testTimekeeper(t, reg)

	e := &Experiment{Steps: []Step{
		{Task: "DG4202_TOGGLE", Parameters: task.Params{"channel": 1, "status": true}},
		{Task: "DG4202_TOGGLE", Parameters: task.Params{"channel": 9, "status": true}},
	}}
	_, err := e.Submit(tk, reg, time.Now())
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if got := len(tk.Jobs()); got != 0 {
		t.Fatalf("invalid experiment left %d pending jobs", got)
	}
}
