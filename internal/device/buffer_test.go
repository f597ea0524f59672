package device

import (
	"testing"
)

func TestBufferEvictsOldest(t *testing.T) {
	t.Parallel()
	b := NewBuffer(4)

	b.Append([]float64{1, 2, 3})
	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}
	b.Append([]float64{4, 5, 6})
	if b.Len() != 4 {
		t.Fatalf("Len = %d, want capacity 4", b.Len())
	}

	got := b.Snapshot()
	want := []float64{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}

	// Snapshot is a copy.
	got[0] = 99
	if b.Snapshot()[0] == 99 {
		t.Fatalf("Snapshot aliases the buffer")
	}

	b.Append(nil) // no-op
	if b.Len() != 4 {
		t.Fatalf("Len = %d after empty append", b.Len())
	}
}

func TestParseASCIIWaveform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    []float64
		wantErr bool
	}{
		{name: "plain csv", raw: "1.0,2.5,-3.25", want: []float64{1.0, 2.5, -3.25}},
		{name: "block header", raw: "#800000011 0.1,0.2", want: []float64{0.1, 0.2}},
		{name: "whitespace", raw: " 1 , 2 ", want: []float64{1, 2}},
		{name: "empty", raw: "", want: nil},
		{name: "garbage", raw: "1.0,abc", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseASCIIWaveform(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseASCIIWaveform: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
