package task

import (
	"context"

	"labd/internal/device"
)

// Canonical names of the built-in bench tasks.
const (
	NameDG4202Toggle      = "DG4202_TOGGLE"
	NameDG4202SetWaveform = "DG4202_SET_WAVEFORM"
	NameDG4202SetSweep    = "DG4202_SET_SWEEP"
	NameEDUX1002AAuto     = "EDUX1002A_AUTO"
)

// RegisterBuiltins wires the bench task set against the two device managers.
// These are thin wrappers: the scheduler calls them, they call the managers.
func RegisterBuiltins(r *Registry, gen *device.DG4202Manager, scope *device.EDUX1002AManager) error {
	defs := []*Definition{
		{
			Name:        NameDG4202Toggle,
			Display:     "Toggle Output",
			Description: "Switch a signal generator output channel on or off.",
			Params: []ParamSpec{
				{Name: "channel", Type: TypeInt, Constraint: OneOf(1, 2)},
				{Name: "status", Type: TypeBool},
			},
			Run: func(ctx context.Context, p Params) error {
				return gen.ToggleOutput(p.Int("channel"), p.Bool("status"))
			},
		},
		{
			Name:        NameDG4202SetWaveform,
			Display:     "Set Waveform Parameters",
			Description: "Apply waveform type, frequency, amplitude and offset to a channel.",
			Params: []ParamSpec{
				{Name: "channel", Type: TypeInt, Constraint: OneOf(1, 2)},
				{Name: "send_on", Type: TypeBool},
				{Name: "waveform_type", Type: TypeString, Constraint: OneOf(anySlice(device.Waveforms())...)},
				{Name: "amplitude", Type: TypeFloat, Unit: "V", Constraint: Range(0, 5)},
				{Name: "frequency", Type: TypeFloat, Unit: "Hz", Constraint: Range(0, device.FreqLimit)},
				{Name: "offset", Type: TypeFloat, Unit: "V", Constraint: Range(0, 5)},
			},
			Run: func(ctx context.Context, p Params) error {
				ch := p.Int("channel")
				err := gen.SetWaveform(ch, device.WaveformParams{
					Type:      p.String("waveform_type"),
					Frequency: p.Float("frequency"),
					Amplitude: p.Float("amplitude"),
					Offset:    p.Float("offset"),
				})
				if err != nil {
					return err
				}
				if p.Bool("send_on") {
					return gen.ToggleOutput(ch, true)
				}
				return nil
			},
		},
		{
			Name:        NameDG4202SetSweep,
			Display:     "Set Sweep Parameters",
			Description: "Configure a frequency sweep on a channel.",
			Params: []ParamSpec{
				{Name: "channel", Type: TypeInt, Constraint: OneOf(1, 2)},
				{Name: "send_on", Type: TypeBool},
				{Name: "fstart", Type: TypeFloat, Unit: "Hz", Constraint: Range(0, device.FreqLimit)},
				{Name: "fstop", Type: TypeFloat, Unit: "Hz", Constraint: Range(0, device.FreqLimit)},
				{Name: "time", Type: TypeFloat, Unit: "s", Constraint: Min(0)},
				{Name: "rtime", Type: TypeFloat, Unit: "ms", Optional: true, Default: 0.0, Constraint: Min(0)},
				{Name: "htime_start", Type: TypeFloat, Unit: "ms", Optional: true, Default: 0.0, Constraint: Min(0)},
				{Name: "htime_stop", Type: TypeFloat, Unit: "ms", Optional: true, Default: 0.0, Constraint: Min(0)},
			},
			Run: func(ctx context.Context, p Params) error {
				ch := p.Int("channel")
				err := gen.SetSweep(ch, device.SweepParams{
					FStart: p.Float("fstart"),
					FStop:  p.Float("fstop"),
					Time:   p.Float("time"),
					RTime:  p.Float("rtime"),
					HStart: p.Float("htime_start"),
					HStop:  p.Float("htime_stop"),
				})
				if err != nil {
					return err
				}
				if p.Bool("send_on") {
					return gen.ToggleOutput(ch, true)
				}
				return nil
			},
		},
		{
			Name:        NameEDUX1002AAuto,
			Display:     "Press Auto",
			Description: "Trigger the oscilloscope autoscale.",
			Params: []ParamSpec{
				{Name: "press", Type: TypeString, Optional: true, Default: "OK", Constraint: OneOf("OK")},
			},
			Run: func(ctx context.Context, p Params) error {
				return scope.AutoScale()
			},
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
