package player

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/timeline"
	"github.com/proctorview/playback/pkg/models"
)

// fakeElement is a fully scripted element: tests fire its events manually,
// which keeps every transition deterministic.
type fakeElement struct {
	mu      sync.Mutex
	sink    ElementEvents
	url     string
	dur     float64
	pos     float64
	playing bool
	closed  bool
	seeks   []float64
}

func (e *fakeElement) Load(url string) {
	e.mu.Lock()
	e.url = url
	e.mu.Unlock()
}

func (e *fakeElement) Play() {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
}

func (e *fakeElement) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *fakeElement) Seek(offset float64) {
	e.mu.Lock()
	e.pos = offset
	e.seeks = append(e.seeks, offset)
	e.mu.Unlock()
}

func (e *fakeElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *fakeElement) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *fakeElement) isPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Event helpers, fired the way a real element would: asynchronously with
// respect to the player's lock, but synchronously for the test.
func (e *fakeElement) ready()          { e.sink.OnCanPlay() }
func (e *fakeElement) end()            { e.sink.OnEnded() }
func (e *fakeElement) fail(msg string) { e.sink.OnError(fmt.Errorf("%s", msg)) }

type fakeFactory struct {
	mu    sync.Mutex
	elems []*fakeElement
	dur   float64
}

func (f *fakeFactory) new(events ElementEvents) MediaElement {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeElement{sink: events, dur: f.dur}
	f.elems = append(f.elems, e)
	return e
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.elems)
}

func (f *fakeFactory) last() *fakeElement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elems[len(f.elems)-1]
}

func testCatalog(n int) *models.Catalog {
	cat := &models.Catalog{SessionID: "sess-1", Kind: models.StreamScreen, InitURL: "https://s.test/init.mp4"}
	for i := 0; i < n; i++ {
		cat.Media = append(cat.Media, models.Segment{
			Index: i,
			Name:  fmt.Sprintf("chunk%03d.m4s", i+1),
			URL:   fmt.Sprintf("https://s.test/chunk%03d.m4s", i+1),
		})
	}
	return cat
}

func newTestPlayer(f *fakeFactory) *Player {
	cfg := Config{
		MaxRetries:       2,
		RetryBackoff:     5 * time.Millisecond,
		PrefetchInterval: time.Hour, // manual control in tests
		WatchdogInterval: time.Hour,
	}
	return New(models.StreamScreen, f.new, nil, cfg, logging.Nop())
}

func TestPlayQueuedUntilReady(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	assert.Equal(t, StateLoading, p.State())

	// Play before the chunk is ready is queued, not dropped
	p.Play()
	assert.Equal(t, StateLoading, p.State())
	assert.True(t, p.IsPlaying())

	f.last().ready()
	assert.Equal(t, StatePlaying, p.State())
	assert.True(t, f.last().isPlaying())
}

func TestPlayIdempotent(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	f.last().ready()

	p.Play()
	p.Play()

	// No duplicate chunk reload
	assert.Equal(t, 1, f.count())
	assert.Equal(t, StatePlaying, p.State())
}

func TestPauseResume(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	f.last().ready()
	p.Play()

	p.Pause()
	assert.Equal(t, StatePaused, p.State())
	assert.False(t, p.IsPlaying())
	assert.False(t, f.last().isPlaying())

	p.Play()
	assert.Equal(t, StatePlaying, p.State())
}

func TestAutoAdvanceWithoutPlayStateBlip(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	var playStates []bool
	p.OnPlayState(func(playing bool) { playStates = append(playStates, playing) })

	var chunkChanges []int
	p.OnChunkChange(func(i int) { chunkChanges = append(chunkChanges, i) })

	p.SetCatalog(testCatalog(3))
	f.last().ready()
	p.Play()

	// Chunk 0 ends: the player immediately starts loading chunk 1
	f.last().end()
	assert.Equal(t, 2, f.count())
	assert.Equal(t, 1, p.CurrentChunk())
	assert.True(t, p.InTransition())

	// Once ready, playback resumes and the guard clears
	f.last().ready()
	assert.Equal(t, StatePlaying, p.State())
	assert.False(t, p.InTransition())
	assert.True(t, f.last().isPlaying())

	// The unified play flag never toggled false across the boundary
	assert.Equal(t, []bool{true}, playStates)
	assert.Equal(t, []int{0, 1}, chunkChanges)
}

func TestEndOfLastChunk(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	var playStates []bool
	p.OnPlayState(func(playing bool) { playStates = append(playStates, playing) })

	p.SetCatalog(testCatalog(1))
	f.last().ready()
	p.Play()
	f.last().end()

	assert.Equal(t, StateEnded, p.State())
	assert.False(t, p.IsPlaying())
	assert.Equal(t, []bool{true, false}, playStates)
}

func TestRetryThenRecover(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(2))
	f.last().fail("network")
	assert.Equal(t, StateRetrying, p.State())

	// Backoff elapses and the same chunk reloads
	require.Eventually(t, func() bool { return f.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, p.CurrentChunk())

	f.last().ready()
	assert.Equal(t, StateReady, p.State())
}

func TestFirstChunkHardFailure(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))

	for i := 0; i < 3; i++ {
		n := f.count()
		f.last().fail("not found")
		if i < 2 {
			require.Eventually(t, func() bool { return f.count() == n+1 }, time.Second, time.Millisecond)
		}
	}

	assert.Equal(t, StateFailed, p.State())
	assert.ErrorIs(t, p.Err(), ErrFirstChunkFailed)
	// Bounded error state, never re-loading
	assert.Equal(t, 3, f.count())
}

func TestMidStreamFailureSkips(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	f.last().ready()
	p.Play()
	f.last().end() // now loading chunk 1

	for i := 0; i < 3; i++ {
		n := f.count()
		f.last().fail("bad segment")
		if i < 2 {
			require.Eventually(t, func() bool { return f.count() == n+1 }, time.Second, time.Millisecond)
		}
	}

	// Chunk 1 is skipped; chunk 2 loads and playback continues
	assert.Equal(t, 2, p.CurrentChunk())
	f.last().ready()
	assert.Equal(t, StatePlaying, p.State())
}

func TestSeekAcrossChunks(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	p.SetTable(timeline.Build([]float64{4.0, 4.0, 4.0}))
	f.last().ready()

	p.SeekToGlobalTime(9.0)
	assert.Equal(t, 2, p.CurrentChunk())
	assert.Equal(t, 2, f.count(), "switched to a fresh element")

	// The intra-chunk offset is applied once the new chunk can seek
	f.last().ready()
	assert.Equal(t, []float64{1.0}, f.last().seeks)
	assert.InDelta(t, 9.0, p.GlobalCurrentTime(), 1e-9)
}

func TestSeekWithinChunk(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	p.SetTable(timeline.Build([]float64{4.0, 4.0, 4.0}))
	f.last().ready()

	p.SeekToGlobalTime(2.5)
	assert.Equal(t, 0, p.CurrentChunk())
	assert.Equal(t, 1, f.count(), "no reload for an in-place seek")
	assert.InDelta(t, 2.5, p.GlobalCurrentTime(), 1e-9)
}

func TestSeekBeforeTablePopulatedUsesUniformEstimate(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	f.last().ready()

	// No table yet: 4s uniform default resolves 5.0 into chunk 1 offset 1.0
	p.SeekToGlobalTime(5.0)
	assert.Equal(t, 1, p.CurrentChunk())
	f.last().ready()
	assert.Equal(t, []float64{1.0}, f.last().seeks)
}

func TestSeekClampsPastEnd(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	p.SetTable(timeline.Build([]float64{4.0, 4.0, 4.0}))
	f.last().ready()

	p.SeekToGlobalTime(100.0)
	assert.Equal(t, 2, p.CurrentChunk())
	f.last().ready()
	assert.Equal(t, []float64{4.0}, f.last().seeks)
	assert.InDelta(t, 12.0, p.GlobalCurrentTime(), 1e-9)
}

func TestSeekRoundTripWithinOneEstimate(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(4))
	p.SetTable(timeline.Build([]float64{4.0, 3.0, 5.0, 4.0}))
	f.last().ready()

	for _, target := range []float64{0, 1.5, 4.0, 7.0, 11.9, 16.0} {
		p.SeekToGlobalTime(target)
		f.last().ready()
		got := p.GlobalCurrentTime()
		assert.InDeltaf(t, target, got, 5.0, "seek(%f) landed at %f", target, got)
	}
}

func TestCatalogReplacementInvalidatesStaleEvents(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	old := f.last()
	old.ready()
	p.Play()

	p.SetCatalog(testCatalog(2))
	assert.True(t, old.closed)

	// Events from the replaced catalog's element must not advance the new session
	old.end()
	assert.Equal(t, 0, p.CurrentChunk())
	assert.Equal(t, StateLoading, p.State())
	assert.False(t, p.IsPlaying(), "play intent does not leak across catalogs")
}

func TestTotalDurationUniformBeforeMeasurement(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(5))
	assert.InDelta(t, 20.0, p.TotalDuration(), 1e-9)

	var totals []float64
	p.OnDurationChange(func(total float64) { totals = append(totals, total) })

	p.SetTable(timeline.Build([]float64{4.0, 4.0, 4.0, 4.0, 2.0}))
	assert.InDelta(t, 18.0, p.TotalDuration(), 1e-9)
	assert.Equal(t, []float64{18.0}, totals)
}

func TestEndToEndScenario(t *testing.T) {
	// Catalog [init.mp4, chunk001..003.m4s], each measured at 4s.
	f := &fakeFactory{dur: 4.0}
	p := newTestPlayer(f)
	defer p.Close()

	p.SetCatalog(testCatalog(3))
	p.SetTable(timeline.Build([]float64{4.0, 4.0, 4.0}))
	assert.InDelta(t, 12.0, p.TotalDuration(), 1e-9)

	f.last().ready()
	p.SeekToGlobalTime(9.0)

	// 9.0 lands in media chunk 2 (0-based; the init segment is non-temporal)
	assert.Equal(t, 2, p.CurrentChunk())
	f.last().ready()
	assert.InDelta(t, 9.0, p.GlobalCurrentTime(), 1e-9)
}

func TestWatchdogSynthesizesMissedEnded(t *testing.T) {
	f := &fakeFactory{dur: 4.0}
	cfg := Config{
		MaxRetries:       2,
		RetryBackoff:     5 * time.Millisecond,
		PrefetchInterval: time.Hour,
		WatchdogInterval: 5 * time.Millisecond,
	}
	p := New(models.StreamScreen, f.new, nil, cfg, logging.Nop())
	defer p.Close()

	p.SetCatalog(testCatalog(2))
	f.last().ready()
	p.Play()

	// The element runs off the end of its chunk without firing ended
	e := f.last()
	e.mu.Lock()
	e.pos = 4.0
	e.mu.Unlock()

	require.Eventually(t, func() bool { return p.CurrentChunk() == 1 }, time.Second, time.Millisecond)
}
