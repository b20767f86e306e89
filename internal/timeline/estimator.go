package timeline

import (
	"context"
	"math"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
)

// DefaultChunkSeconds is the fallback per-chunk duration when no
// measurement is available. Streams recorded at one-second granularity use
// FineChunkSeconds instead.
const (
	DefaultChunkSeconds = 4.0
	FineChunkSeconds    = 1.0
)

// Prober measures the media duration of a single segment without decoding
// its content.
type Prober interface {
	ProbeDuration(ctx context.Context, url string) (float64, error)
}

// Estimator builds the chunk duration table for a stream. Metadata for
// fragmented or headerless formats is often missing or wrong, so the
// estimator never blocks playback waiting for perfect numbers: it degrades
// to uniform estimates and corrects opportunistically as real measurements
// arrive.
type Estimator struct {
	prober       Prober
	probeTimeout time.Duration
	defaultDur   float64
	log          *logging.Logger
}

// NewEstimator creates an estimator. defaultDur is the per-chunk fallback
// duration; zero selects DefaultChunkSeconds.
func NewEstimator(prober Prober, probeTimeout time.Duration, defaultDur float64, log *logging.Logger) *Estimator {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if defaultDur <= 0 {
		defaultDur = DefaultChunkSeconds
	}
	return &Estimator{
		prober:       prober,
		probeTimeout: probeTimeout,
		defaultDur:   defaultDur,
		log:          log,
	}
}

// Estimate measures every segment sequentially and returns the final table.
// After each measurement the table is rebuilt and onUpdate invoked, since a
// real measurement replacing an earlier estimate shifts every later offset.
// Callers must tolerate multiple updates with a revised total.
//
// If the very first probe fails, per-segment measurement is abandoned and a
// uniform table is emitted once. A failed probe mid-run is assigned the
// running average of measurements so far.
func (e *Estimator) Estimate(ctx context.Context, urls []string, onUpdate func(*Table)) *Table {
	if len(urls) == 0 {
		t := Build(nil)
		if onUpdate != nil {
			onUpdate(t)
		}
		return t
	}

	first, err := e.probeOne(ctx, urls[0])
	if err != nil || !finitePositive(first) {
		e.log.Debugf("First metadata probe unusable (%v), assigning uniform %.1fs to %d chunks", err, e.defaultDur, len(urls))
		metrics.ProbesTotal.WithLabelValues("default").Inc()
		t := Uniform(len(urls), e.defaultDur)
		if onUpdate != nil {
			onUpdate(t)
		}
		return t
	}

	metrics.ProbesTotal.WithLabelValues("measured").Inc()

	durations := make([]float64, len(urls))
	durations[0] = first
	measured := []float64{first}
	fillUnmeasured(durations, 1, average(measured))

	table := Build(durations)
	if onUpdate != nil {
		onUpdate(table)
	}

	for i := 1; i < len(urls); i++ {
		select {
		case <-ctx.Done():
			return table
		default:
		}

		d, err := e.probeOne(ctx, urls[i])
		if err != nil || !finitePositive(d) {
			// Locally absorbed: substitute the running average.
			durations[i] = average(measured)
			metrics.ProbesTotal.WithLabelValues("estimated").Inc()
		} else {
			durations[i] = d
			measured = append(measured, d)
			metrics.ProbesTotal.WithLabelValues("measured").Inc()
		}

		fillUnmeasured(durations, i+1, average(measured))
		table = Build(durations)
		if onUpdate != nil {
			onUpdate(table)
		}
	}

	e.log.Debugf("Duration estimate complete: %d chunks, %.2fs total (%d measured)", len(urls), table.Total(), len(measured))
	return table
}

func (e *Estimator) probeOne(ctx context.Context, url string) (float64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	start := time.Now()
	d, err := e.prober.ProbeDuration(probeCtx, url)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	return d, err
}

// fillUnmeasured overwrites the tail of durations (from index from) with the
// current best estimate for not-yet-measured chunks.
func fillUnmeasured(durations []float64, from int, estimate float64) {
	for i := from; i < len(durations); i++ {
		durations[i] = estimate
	}
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return DefaultChunkSeconds
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
