package timeline

import (
	"github.com/proctorview/playback/pkg/models"
)

// Table is the cumulative chunk→offset mapping for one stream. Entries are
// contiguous and monotonic: chunks[i].EndTime == chunks[i+1].StartTime and
// Total() == chunks[last].EndTime. A Table is immutable once built; the
// estimator rebuilds it whenever a measurement replaces an estimate.
type Table struct {
	chunks []models.ChunkDuration
	total  float64
}

// Build constructs a table from per-chunk durations
func Build(durations []float64) *Table {
	t := &Table{chunks: make([]models.ChunkDuration, 0, len(durations))}

	var offset float64
	for i, d := range durations {
		if d < 0 {
			d = 0
		}
		t.chunks = append(t.chunks, models.ChunkDuration{
			Index:     i,
			StartTime: offset,
			EndTime:   offset + d,
			Duration:  d,
		})
		offset += d
	}
	t.total = offset

	return t
}

// Uniform constructs a table of n chunks each lasting per seconds
func Uniform(n int, per float64) *Table {
	durations := make([]float64, n)
	for i := range durations {
		durations[i] = per
	}
	return Build(durations)
}

// Len returns the number of chunks
func (t *Table) Len() int {
	return len(t.chunks)
}

// Total returns the total duration of the timeline
func (t *Table) Total() float64 {
	return t.total
}

// Chunks returns the table rows
func (t *Table) Chunks() []models.ChunkDuration {
	return t.chunks
}

// DurationOf returns the duration of chunk i
func (t *Table) DurationOf(i int) float64 {
	if i < 0 || i >= len(t.chunks) {
		return 0
	}
	return t.chunks[i].Duration
}

// StartOf returns the global start offset of chunk i
func (t *Table) StartOf(i int) float64 {
	if i < 0 || i >= len(t.chunks) {
		return 0
	}
	return t.chunks[i].StartTime
}

// Locate translates a global time into a chunk index and an offset within
// that chunk. Times past the end clamp to the end of the last chunk;
// negative times clamp to zero. Linear scan; catalogs are small.
func (t *Table) Locate(global float64) (int, float64) {
	if len(t.chunks) == 0 {
		return 0, 0
	}
	if global <= 0 {
		return 0, 0
	}
	if global >= t.total {
		last := t.chunks[len(t.chunks)-1]
		return last.Index, last.Duration
	}

	for _, c := range t.chunks {
		if global < c.EndTime {
			return c.Index, global - c.StartTime
		}
	}

	last := t.chunks[len(t.chunks)-1]
	return last.Index, last.Duration
}
