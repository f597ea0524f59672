package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// edux1002aHW drives a real EDUX1002A over an open connection.
type edux1002aHW struct {
	conn Conn
}

func (d *edux1002aHW) AutoScale() error {
	return d.conn.Send(":AUToscale")
}

func (d *edux1002aHW) WaveformData(channel int) ([]float64, error) {
	if err := d.conn.Send(fmt.Sprintf(":WAVeform:SOURce CHANnel%d", channel)); err != nil {
		return nil, err
	}
	if err := d.conn.Send(":WAVeform:FORMat ASCii"); err != nil {
		return nil, err
	}
	raw, err := d.conn.Query(":WAVeform:DATA?")
	if err != nil {
		return nil, err
	}
	return parseASCIIWaveform(raw)
}

// parseASCIIWaveform decodes a comma-separated sample list, tolerating the
// IEEE 488.2 definite-length block header (#8<len>) some firmwares prepend.
func parseASCIIWaveform(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "#") && len(raw) > 2 {
		n := int(raw[1] - '0')
		if n > 0 && len(raw) > 2+n {
			raw = raw[2+n:]
		}
	}
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("waveform sample %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// MockEDUX1002A synthesizes a sine trace per channel so downstream buffers
// and plots have data to chew on without hardware.
type MockEDUX1002A struct {
	mock

	smu        sync.Mutex
	autoScaled bool
	phase      float64
}

func NewMockEDUX1002A() *MockEDUX1002A { return &MockEDUX1002A{} }

func (m *MockEDUX1002A) AutoScale() error {
	m.smu.Lock()
	m.autoScaled = true
	m.smu.Unlock()
	return nil
}

func (m *MockEDUX1002A) AutoScaled() bool {
	m.smu.Lock()
	defer m.smu.Unlock()
	return m.autoScaled
}

func (m *MockEDUX1002A) WaveformData(channel int) ([]float64, error) {
	m.smu.Lock()
	phase := m.phase
	m.phase += 0.1
	m.smu.Unlock()

	const samples = 64
	out := make([]float64, samples)
	freq := float64(channel) // channel 2 renders twice the frequency of channel 1
	for i := range out {
		x := phase + float64(i)/samples*2*math.Pi*freq
		out[i] = math.Sin(x)
	}
	return out, nil
}
