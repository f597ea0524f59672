package device

import (
	"fmt"
	"strings"
	"sync"
)

// FreqLimit is the DG4202's maximum output frequency in Hz.
const FreqLimit = 200e6

// Waveforms lists the waveform types the DG4202 accepts.
func Waveforms() []string {
	return []string{"SIN", "SQU", "RAMP", "PULS", "NOIS"}
}

// dg4202HW drives a real DG4202 over an open connection.
type dg4202HW struct {
	conn Conn
}

func (d *dg4202HW) ToggleOutput(channel int, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return d.conn.Send(fmt.Sprintf("OUTPut%d %s", channel, state))
}

func (d *dg4202HW) SetWaveform(channel int, p WaveformParams) error {
	wf := strings.ToUpper(strings.TrimSpace(p.Type))
	if wf == "" {
		wf = "SIN"
	}
	return d.conn.Send(fmt.Sprintf("SOURce%d:APPLy:%s %g,%g,%g",
		channel, wf, p.Frequency, p.Amplitude, p.Offset))
}

func (d *dg4202HW) SetSweep(channel int, p SweepParams) error {
	cmds := []string{
		fmt.Sprintf("SOURce%d:FREQuency:STARt %g", channel, p.FStart),
		fmt.Sprintf("SOURce%d:FREQuency:STOP %g", channel, p.FStop),
		fmt.Sprintf("SOURce%d:SWEep:TIME %g", channel, p.Time),
		fmt.Sprintf("SOURce%d:SWEep:RTIMe %g", channel, p.RTime),
		fmt.Sprintf("SOURce%d:SWEep:HTIMe:STARt %g", channel, p.HStart),
		fmt.Sprintf("SOURce%d:SWEep:HTIMe:STOP %g", channel, p.HStop),
		fmt.Sprintf("SOURce%d:SWEep:STATe ON", channel),
	}
	for _, c := range cmds {
		if err := d.conn.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// MockDG4202 is the in-process stand-in for a DG4202. It records the last
// applied settings per channel so tests and the simulated bench can inspect
// them.
type MockDG4202 struct {
	mock

	smu     sync.Mutex
	outputs map[int]bool
	wave    map[int]WaveformParams
	sweep   map[int]SweepParams
}

func NewMockDG4202() *MockDG4202 {
	return &MockDG4202{
		outputs: map[int]bool{},
		wave:    map[int]WaveformParams{},
		sweep:   map[int]SweepParams{},
	}
}

func (m *MockDG4202) ToggleOutput(channel int, on bool) error {
	m.smu.Lock()
	m.outputs[channel] = on
	m.smu.Unlock()
	return nil
}

func (m *MockDG4202) SetWaveform(channel int, p WaveformParams) error {
	m.smu.Lock()
	m.wave[channel] = p
	m.smu.Unlock()
	return nil
}

func (m *MockDG4202) SetSweep(channel int, p SweepParams) error {
	m.smu.Lock()
	m.sweep[channel] = p
	m.smu.Unlock()
	return nil
}

func (m *MockDG4202) Output(channel int) bool {
	m.smu.Lock()
	defer m.smu.Unlock()
	return m.outputs[channel]
}

func (m *MockDG4202) Waveform(channel int) WaveformParams {
	m.smu.Lock()
	defer m.smu.Unlock()
	return m.wave[channel]
}
