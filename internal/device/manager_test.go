package device

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"labd/internal/statestore"
	logx "labd/pkg/logx"
)

// fakeConn answers *IDN? with the configured identification string until
// dropped, recording every command sent.
type fakeConn struct {
	mu      sync.Mutex
	idn     string
	dropped bool
	sent    []string
}

func (c *fakeConn) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeConn) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return "", errTimeout
	}
	if cmd == "*IDN?" {
		return "FAKE," + c.idn + ",0,1.0", nil
	}
	return "", nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "i/o timeout" }

// fakeTransport hands out fresh fakeConns for the configured identification,
// or fails every probe when absent.
type fakeTransport struct {
	mu     sync.Mutex
	idn    string
	absent bool
	opened []*fakeConn
}

func (t *fakeTransport) Resources() []string { return []string{"fake:0"} }

func (t *fakeTransport) Open(resource string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.absent {
		return nil, errTimeout
	}
	c := &fakeConn{idn: t.idn}
	t.opened = append(t.opened, c)
	return c, nil
}

func (t *fakeTransport) setAbsent(absent bool) {
	t.mu.Lock()
	t.absent = absent
	t.mu.Unlock()
}

func tempStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	return s
}

func TestHardwareAbsentRecordsNilLastAlive(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	tr := &fakeTransport{idn: DG4202IDN, absent: true}
	m := NewDG4202Manager(state, tr, false, logx.Nop())

	if dev := m.Device(); dev != nil {
		t.Fatalf("expected nil device while absent")
	}
	if m.Status() != StatusHardwareAbsent {
		t.Fatalf("status = %v", m.Status())
	}
	if m.Uptime() != "N/A" {
		t.Fatalf("Uptime = %q, want N/A", m.Uptime())
	}
	if err := m.ToggleOutput(1, true); err != ErrDeviceAbsent {
		t.Fatalf("ToggleOutput err = %v, want ErrDeviceAbsent", err)
	}

	doc, _ := state.Read()
	if v, present := doc["DG4202_last_alive"]; !present || v != nil {
		t.Fatalf("expected explicit nil liveness key, got %v (present=%v)", v, present)
	}
}

func TestDetectSetsFirstSeenOnce(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	tr := &fakeTransport{idn: DG4202IDN}
	m := NewDG4202Manager(state, tr, false, logx.Nop())

	if dev := m.Device(); dev == nil {
		t.Fatalf("expected device")
	}
	if m.Status() != StatusHardwareAlive {
		t.Fatalf("status = %v", m.Status())
	}
	first, ok, err := state.DeviceLastAlive(DG4202IDN)
	if err != nil || !ok {
		t.Fatalf("last alive: ok=%v err=%v", ok, err)
	}

	// Further resolutions while alive keep the original first-seen time.
	for i := 0; i < 3; i++ {
		if dev := m.Device(); dev == nil {
			t.Fatalf("expected device on pass %d", i)
		}
	}
	again, ok, _ := state.DeviceLastAlive(DG4202IDN)
	if !ok || !again.Equal(first) {
		t.Fatalf("first-seen timestamp moved: %v -> %v", first, again)
	}
}

func TestReconnectResetsUptime(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	tr := &fakeTransport{idn: DG4202IDN}
	m := NewDG4202Manager(state, tr, false, logx.Nop())

	if dev := m.Device(); dev == nil {
		t.Fatalf("expected device")
	}
	first, _, _ := state.DeviceLastAlive(DG4202IDN)

	// Drop the wire and make the transport fail probes: next resolve
	// detects the dead connection and records absence.
	tr.mu.Lock()
	conn := tr.opened[0]
	tr.mu.Unlock()
	conn.drop()
	tr.setAbsent(true)
	if dev := m.Device(); dev != nil {
		t.Fatalf("expected nil device after drop")
	}
	if _, ok, _ := state.DeviceLastAlive(DG4202IDN); ok {
		t.Fatalf("expected liveness nulled after drop")
	}

	// Hardware comes back: a fresh first-seen timestamp is recorded.
	time.Sleep(1100 * time.Millisecond) // unix-second resolution
	tr.setAbsent(false)
	if dev := m.Device(); dev == nil {
		t.Fatalf("expected device after revive")
	}
	second, ok, _ := state.DeviceLastAlive(DG4202IDN)
	if !ok {
		t.Fatalf("expected liveness recorded after revive")
	}
	if !second.After(first) {
		t.Fatalf("expected fresh first-seen, got %v <= %v", second, first)
	}
}

func TestMockKillRevive(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	m := NewDG4202Manager(state, nil, true, logx.Nop())

	if !m.Mocked() {
		t.Fatalf("expected mock mode")
	}
	if dev := m.Device(); dev == nil {
		t.Fatalf("expected mock device")
	}
	if m.Status() != StatusMockAlive {
		t.Fatalf("status = %v", m.Status())
	}
	if !m.Alive() {
		t.Fatalf("expected alive")
	}

	m.KillMock()
	if dev := m.Device(); dev != nil {
		t.Fatalf("expected nil device while killed")
	}
	if m.Status() != StatusMockDead {
		t.Fatalf("status = %v", m.Status())
	}
	if err := m.SetWaveform(1, WaveformParams{Type: "SIN"}); err != ErrDeviceAbsent {
		t.Fatalf("SetWaveform err = %v, want ErrDeviceAbsent", err)
	}

	m.ReviveMock()
	if dev := m.Device(); dev == nil {
		t.Fatalf("expected device after revive")
	}
}

func TestMockDG4202RecordsState(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	m := NewDG4202Manager(state, nil, true, logx.Nop())

	if err := m.ToggleOutput(1, true); err != nil {
		t.Fatalf("ToggleOutput: %v", err)
	}
	wf := WaveformParams{Type: "SQU", Frequency: 1e3, Amplitude: 2, Offset: 0.5}
	if err := m.SetWaveform(2, wf); err != nil {
		t.Fatalf("SetWaveform: %v", err)
	}

	mock := m.mockDev
	if !mock.Output(1) {
		t.Fatalf("output 1 not recorded")
	}
	if mock.Output(2) {
		t.Fatalf("output 2 unexpectedly on")
	}
	if got := mock.Waveform(2); got != wf {
		t.Fatalf("waveform = %+v, want %+v", got, wf)
	}
}

func TestHardwareSCPICommands(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	tr := &fakeTransport{idn: DG4202IDN}
	m := NewDG4202Manager(state, tr, false, logx.Nop())

	if err := m.ToggleOutput(1, true); err != nil {
		t.Fatalf("ToggleOutput: %v", err)
	}
	if err := m.ToggleOutput(2, false); err != nil {
		t.Fatalf("ToggleOutput: %v", err)
	}

	tr.mu.Lock()
	conn := tr.opened[0]
	tr.mu.Unlock()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) < 2 {
		t.Fatalf("sent = %v", conn.sent)
	}
	if conn.sent[0] != "OUTPut1 ON" || conn.sent[1] != "OUTPut2 OFF" {
		t.Fatalf("sent = %v", conn.sent)
	}
}

func TestOscilloscopeMockWaveformAndBuffer(t *testing.T) {
	t.Parallel()
	state := tempStore(t)
	m := NewEDUX1002AManager(state, nil, true, 16, logx.Nop())

	if err := m.AutoScale(); err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if !m.mockDev.AutoScaled() {
		t.Fatalf("autoscale not recorded")
	}

	data, err := m.WaveformData(1)
	if err != nil {
		t.Fatalf("WaveformData: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected synthesized samples")
	}

	if got := m.ChannelData(1); got != nil {
		t.Fatalf("buffer should be empty before polling, got %d samples", len(got))
	}
	if got := m.ChannelData(3); got != nil {
		t.Fatalf("unknown channel should yield nil")
	}
}
