package device

import (
	"errors"
	"sync"
)

// Identification substrings expected in the *IDN? response of each
// instrument class.
const (
	DG4202IDN    = "DG4202"
	EDUX1002AIDN = "EDUX1002A"
)

// ErrDeviceAbsent reports that no device handle is currently available
// (hardware not found, or the mock was administratively killed). It is a
// normal state, not a fault: operations degrade to no-ops returning this
// sentinel.
var ErrDeviceAbsent = errors.New("device absent")

// Conn is the wire boundary to one instrument: send a command string, or
// send and read back one response string. Protocol details beyond that are
// out of scope.
type Conn interface {
	Send(cmd string) error
	Query(cmd string) (string, error)
	Close() error
}

// Transport enumerates candidate instrument endpoints and opens them.
type Transport interface {
	Resources() []string
	Open(resource string) (Conn, error)
}

// WaveformParams configures one output channel of a signal generator.
type WaveformParams struct {
	Type      string  // SIN, SQU, RAMP, PULS, NOIS
	Frequency float64 // Hz
	Amplitude float64 // Vpp
	Offset    float64 // V
}

// SweepParams configures a frequency sweep on a signal generator channel.
type SweepParams struct {
	FStart float64 // Hz
	FStop  float64 // Hz
	Time   float64 // s
	RTime  float64 // ms, return time
	HStart float64 // ms, hold at start
	HStop  float64 // ms, hold at stop
}

// SignalGenerator is the closed capability surface of the DG4202 class.
type SignalGenerator interface {
	ToggleOutput(channel int, on bool) error
	SetWaveform(channel int, p WaveformParams) error
	SetSweep(channel int, p SweepParams) error
}

// Oscilloscope is the closed capability surface of the EDUX1002A class.
type Oscilloscope interface {
	AutoScale() error
	WaveformData(channel int) ([]float64, error)
}

// mock is the shared administrative kill switch of simulated devices.
type mock struct {
	mu     sync.Mutex
	killed bool
}

// Kill simulates a disconnect: the mock stops answering until Revive.
func (m *mock) Kill() {
	m.mu.Lock()
	m.killed = true
	m.mu.Unlock()
}

func (m *mock) Revive() {
	m.mu.Lock()
	m.killed = false
	m.mu.Unlock()
}

func (m *mock) Killed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}
