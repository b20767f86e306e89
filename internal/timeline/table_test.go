package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContiguousMonotonic(t *testing.T) {
	table := Build([]float64{4.0, 3.5, 4.2, 0.8})

	chunks := table.Chunks()
	require.Len(t, chunks, 4)

	for i := 0; i < len(chunks)-1; i++ {
		assert.Equal(t, chunks[i].EndTime, chunks[i+1].StartTime,
			"chunk %d end must equal chunk %d start", i, i+1)
	}

	assert.Equal(t, chunks[len(chunks)-1].EndTime, table.Total())
	assert.InDelta(t, 12.5, table.Total(), 1e-9)
}

func TestBuildEmpty(t *testing.T) {
	table := Build(nil)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0.0, table.Total())

	idx, off := table.Locate(5.0)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0.0, off)
}

func TestUniform(t *testing.T) {
	table := Uniform(5, 4.0)
	assert.Equal(t, 5, table.Len())
	assert.InDelta(t, 20.0, table.Total(), 1e-9)
	assert.InDelta(t, 8.0, table.StartOf(2), 1e-9)
}

func TestLocate(t *testing.T) {
	table := Build([]float64{4.0, 4.0, 4.0})

	tests := []struct {
		name       string
		global     float64
		wantIdx    int
		wantOffset float64
	}{
		{"start", 0.0, 0, 0.0},
		{"negative clamps to start", -1.0, 0, 0.0},
		{"inside first", 2.5, 0, 2.5},
		{"boundary belongs to next", 4.0, 1, 0.0},
		{"inside middle", 5.0, 1, 1.0},
		{"inside last", 9.0, 2, 1.0},
		{"exact end clamps to last", 12.0, 2, 4.0},
		{"past end clamps to last", 99.0, 2, 4.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, off := table.Locate(tt.global)
			assert.Equal(t, tt.wantIdx, idx)
			assert.InDelta(t, tt.wantOffset, off, 1e-9)
		})
	}
}

func TestLocateRoundTrip(t *testing.T) {
	table := Build([]float64{3.0, 5.0, 2.0, 4.0})

	// For any t in [0, total), StartOf(idx) + offset reproduces t exactly.
	for _, global := range []float64{0, 0.1, 2.9, 3.0, 7.5, 8.0, 9.99, 13.9} {
		idx, off := table.Locate(global)
		assert.InDelta(t, global, table.StartOf(idx)+off, 1e-9, "round trip for t=%f", global)
	}
}

func TestBuildNegativeDurationClampsToZero(t *testing.T) {
	table := Build([]float64{4.0, -1.0, 4.0})
	assert.InDelta(t, 8.0, table.Total(), 1e-9)
	assert.Equal(t, 0.0, table.DurationOf(1))
}
