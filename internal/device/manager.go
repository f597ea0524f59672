package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"labd/internal/statestore"
	logx "labd/pkg/logx"
)

// Status is the lifecycle state of one managed device class.
type Status int

const (
	StatusUninitialized Status = iota
	StatusMockAlive
	StatusMockDead
	StatusHardwareAlive
	StatusHardwareAbsent
)

func (s Status) String() string {
	switch s {
	case StatusMockAlive:
		return "mock_alive"
	case StatusMockDead:
		return "mock_dead"
	case StatusHardwareAlive:
		return "hardware_alive"
	case StatusHardwareAbsent:
		return "hardware_absent"
	default:
		return "uninitialized"
	}
}

// mockControl is the administrative surface shared by all simulated devices.
type mockControl interface {
	Kill()
	Revive()
	Killed() bool
}

// lifecycle owns mock-vs-real resolution and last-alive bookkeeping for one
// device class. The state store is the only writer surface for liveness
// keys; nothing else touches them.
type lifecycle struct {
	idn       string
	useMock   bool
	mockCtl   mockControl
	transport Transport
	state     *statestore.Store
	log       logx.Logger

	mu     sync.Mutex
	status Status
	conn   Conn // cached open hardware connection, nil when absent or mocked
}

// resolve re-evaluates the device handle. Mock mode answers from the kill
// switch; hardware mode revalidates the cached connection and re-probes the
// transport when it is gone. The last-alive key is updated on every call:
// set on the first transition into alive (preserving true first-seen time),
// nulled on transition into dead/absent.
func (l *lifecycle) resolve() (Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var alive bool
	if l.useMock {
		alive = !l.mockCtl.Killed()
		if alive {
			l.status = StatusMockAlive
		} else {
			l.status = StatusMockDead
		}
	} else {
		if l.conn != nil && !l.connAliveLocked() {
			_ = l.conn.Close()
			l.conn = nil
		}
		if l.conn == nil {
			l.conn = detect(l.transport, l.idn, l.log)
		}
		alive = l.conn != nil
		if alive {
			l.status = StatusHardwareAlive
		} else {
			l.status = StatusHardwareAbsent
		}
	}

	l.recordAliveLocked(alive)
	return l.conn, alive
}

func (l *lifecycle) connAliveLocked() bool {
	resp, err := l.conn.Query("*IDN?")
	return err == nil && strings.Contains(resp, l.idn)
}

func (l *lifecycle) recordAliveLocked(alive bool) {
	if alive {
		_, seen, err := l.state.DeviceLastAlive(l.idn)
		if err != nil {
			l.log.Warn("liveness read failed", logx.String("idn", l.idn), logx.Err(err))
			return
		}
		if seen {
			return // already alive; keep the original first-seen timestamp
		}
		now := time.Now()
		if err := l.state.SetDeviceLastAlive(l.idn, &now); err != nil {
			l.log.Warn("liveness write failed", logx.String("idn", l.idn), logx.Err(err))
		}
		return
	}
	if err := l.state.SetDeviceLastAlive(l.idn, nil); err != nil {
		l.log.Warn("liveness write failed", logx.String("idn", l.idn), logx.Err(err))
	}
}

func (l *lifecycle) IDN() string { return l.idn }

func (l *lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Alive answers without re-probing: mocks report their kill switch, hardware
// answers a direct identification query on the cached connection. Any
// transport error collapses to false.
func (l *lifecycle) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.useMock {
		return !l.mockCtl.Killed()
	}
	if l.conn == nil {
		return false
	}
	return l.connAliveLocked()
}

// Uptime formats now minus the persisted last-alive timestamp, or "N/A"
// when the device has never been seen alive.
func (l *lifecycle) Uptime() string {
	last, ok, err := l.state.DeviceLastAlive(l.idn)
	if err != nil || !ok {
		return "N/A"
	}
	return time.Since(last).Truncate(time.Second).String()
}

func (l *lifecycle) KillMock()   { l.mockCtl.Kill() }
func (l *lifecycle) ReviveMock() { l.mockCtl.Revive() }
func (l *lifecycle) Mocked() bool {
	return l.useMock
}

// ---- DG4202 ----

// DG4202Manager is the lifecycle manager for the signal generator class.
type DG4202Manager struct {
	lifecycle
	mockDev *MockDG4202
}

func NewDG4202Manager(state *statestore.Store, transport Transport, mockMode bool, log logx.Logger) *DG4202Manager {
	m := &DG4202Manager{mockDev: NewMockDG4202()}
	m.lifecycle = lifecycle{
		idn:       DG4202IDN,
		useMock:   mockMode,
		mockCtl:   m.mockDev,
		transport: transport,
		state:     state,
		log:       log.With(logx.String("device", DG4202IDN)),
	}
	return m
}

// Device resolves the current handle, nil when absent.
func (m *DG4202Manager) Device() SignalGenerator {
	conn, alive := m.resolve()
	if !alive {
		return nil
	}
	if m.useMock {
		return m.mockDev
	}
	return &dg4202HW{conn: conn}
}

func (m *DG4202Manager) ToggleOutput(channel int, on bool) error {
	dev := m.Device()
	if dev == nil {
		return ErrDeviceAbsent
	}
	return dev.ToggleOutput(channel, on)
}

func (m *DG4202Manager) SetWaveform(channel int, p WaveformParams) error {
	dev := m.Device()
	if dev == nil {
		return ErrDeviceAbsent
	}
	return dev.SetWaveform(channel, p)
}

func (m *DG4202Manager) SetSweep(channel int, p SweepParams) error {
	dev := m.Device()
	if dev == nil {
		return ErrDeviceAbsent
	}
	return dev.SetSweep(channel, p)
}

// ---- EDUX1002A ----

// EDUX1002AManager is the lifecycle manager for the oscilloscope class. It
// additionally owns one ring buffer per channel, fed by Poll.
type EDUX1002AManager struct {
	lifecycle
	mockDev *MockEDUX1002A
	buffers map[int]*Buffer
}

func NewEDUX1002AManager(state *statestore.Store, transport Transport, mockMode bool, bufferSize int, log logx.Logger) *EDUX1002AManager {
	m := &EDUX1002AManager{
		mockDev: NewMockEDUX1002A(),
		buffers: map[int]*Buffer{
			1: NewBuffer(bufferSize),
			2: NewBuffer(bufferSize),
		},
	}
	m.lifecycle = lifecycle{
		idn:       EDUX1002AIDN,
		useMock:   mockMode,
		mockCtl:   m.mockDev,
		transport: transport,
		state:     state,
		log:       log.With(logx.String("device", EDUX1002AIDN)),
	}
	return m
}

// Device resolves the current handle, nil when absent.
func (m *EDUX1002AManager) Device() Oscilloscope {
	conn, alive := m.resolve()
	if !alive {
		return nil
	}
	if m.useMock {
		return m.mockDev
	}
	return &edux1002aHW{conn: conn}
}

func (m *EDUX1002AManager) AutoScale() error {
	dev := m.Device()
	if dev == nil {
		return ErrDeviceAbsent
	}
	return dev.AutoScale()
}

func (m *EDUX1002AManager) WaveformData(channel int) ([]float64, error) {
	dev := m.Device()
	if dev == nil {
		return nil, ErrDeviceAbsent
	}
	return dev.WaveformData(channel)
}

// ChannelData snapshots the ring buffer for one channel.
func (m *EDUX1002AManager) ChannelData(channel int) []float64 {
	buf := m.buffers[channel]
	if buf == nil {
		return nil
	}
	return buf.Snapshot()
}

// Poll feeds the channel buffers until ctx is done, querying the instrument
// at most once per interval. Meant to run on its own goroutine; it never
// shares the scheduler's due-time loop.
func (m *EDUX1002AManager) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	pollBuffers(ctx, lim, m.buffers, m.WaveformData, m.log)
}
