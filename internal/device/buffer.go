package device

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	logx "labd/pkg/logx"
)

// Buffer is a fixed-capacity ring of samples. Appends past capacity evict
// the oldest samples.
type Buffer struct {
	mu   sync.Mutex
	data []float64
	size int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 128
	}
	return &Buffer{size: size}
}

func (b *Buffer) Append(samples []float64) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, samples...)
	if over := len(b.data) - b.size; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Snapshot returns a copy of the buffered samples, oldest first.
func (b *Buffer) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.data...)
}

// pollBuffers feeds the per-channel buffers by querying fn at most once per
// interval (token bucket, so a slow instrument read doesn't cause a burst of
// catch-up queries). Runs until ctx is done. Absent devices are skipped
// quietly; read errors are logged and retried on the next tick.
func pollBuffers(ctx context.Context, lim *rate.Limiter, buffers map[int]*Buffer,
	fn func(channel int) ([]float64, error), log logx.Logger) {
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		for ch, buf := range buffers {
			data, err := fn(ch)
			if err != nil {
				if err != ErrDeviceAbsent {
					log.Debug("waveform poll failed", logx.Int("channel", ch), logx.Err(err))
				}
				continue
			}
			buf.Append(data)
		}
	}
}
