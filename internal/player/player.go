package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
	"github.com/proctorview/playback/internal/timeline"
	"github.com/proctorview/playback/pkg/models"
)

// ErrFirstChunkFailed is the hard failure raised when the opening chunk of
// a session cannot be loaded after retries. Mid-stream failures are skipped
// instead.
var ErrFirstChunkFailed = errors.New("first chunk failed to load")

// State is a player lifecycle state
type State int

// Player states
const (
	StateIdle State = iota
	StateLoading
	StateRetrying
	StateReady
	StatePlaying
	StatePaused
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRetrying:
		return "retrying"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds per-player tuning
type Config struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	PrefetchDepth     int
	PrefetchThreshold float64
	PrefetchInterval  time.Duration
	WatchdogInterval  time.Duration
	DefaultChunkSecs  float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.PrefetchDepth <= 0 {
		c.PrefetchDepth = 3
	}
	if c.PrefetchThreshold <= 0 {
		c.PrefetchThreshold = 0.75
	}
	if c.PrefetchInterval <= 0 {
		c.PrefetchInterval = 250 * time.Millisecond
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = time.Second
	}
	if c.DefaultChunkSecs <= 0 {
		c.DefaultChunkSecs = timeline.DefaultChunkSeconds
	}
	return c
}

type eventKind int

const (
	evCanPlay eventKind = iota
	evEnded
	evError
	evRetry
	evWatchdog
	evPrefetchTick
)

// event is a state-transition input to the dispatcher. gen ties an event to
// the catalog generation it was produced under; events from a replaced
// catalog are dropped so stale callbacks cannot corrupt a new session.
type event struct {
	kind eventKind
	gen  uint64
	idx  int
	err  error
}

// elementSink forwards one element's signals into the player dispatcher,
// tagged with the chunk and generation it was created for.
type elementSink struct {
	p   *Player
	gen uint64
	idx int
}

func (s *elementSink) OnCanPlay() { s.p.handle(event{kind: evCanPlay, gen: s.gen, idx: s.idx}) }
func (s *elementSink) OnEnded()   { s.p.handle(event{kind: evEnded, gen: s.gen, idx: s.idx}) }
func (s *elementSink) OnError(err error) {
	s.p.handle(event{kind: evError, gen: s.gen, idx: s.idx, err: err})
}

// Player is the sequential chunk playback engine for one stream. It owns
// exactly one media element at a time and exposes a virtual continuous-time
// surface over the underlying per-chunk element. All state transitions run
// through a single dispatcher, so retry, backoff, and transition-guard
// logic live in one place.
type Player struct {
	mu         sync.Mutex
	cfg        Config
	newElement ElementFactory
	prefetcher *Prefetcher
	log        *logging.Logger
	stream     string

	gen       uint64
	initURL   string
	urls      []string
	table     *timeline.Table
	runCtx    context.Context
	runCancel context.CancelFunc

	state        State
	current      int
	elem         MediaElement
	retries      int
	wantPlaying  bool
	pendingSeek  float64 // intra-chunk offset applied on readiness; <0 none
	inTransition bool
	everReady    bool
	lastErr      error
	closed       bool

	onChunkChange    func(index int)
	onDurationChange func(total float64)
	onPlayState      func(playing bool)
}

// New creates a player for one stream kind. The factory supplies a fresh
// element per chunk; the prefetcher may be nil to disable prefetching.
func New(kind models.StreamKind, factory ElementFactory, prefetcher *Prefetcher, cfg Config, log *logging.Logger) *Player {
	return &Player{
		cfg:         cfg.withDefaults(),
		newElement:  factory,
		prefetcher:  prefetcher,
		log:         log.WithStream(string(kind)),
		stream:      string(kind),
		state:       StateIdle,
		pendingSeek: -1,
	}
}

// OnChunkChange registers the chunk-index change notification
func (p *Player) OnChunkChange(fn func(index int)) {
	p.mu.Lock()
	p.onChunkChange = fn
	p.mu.Unlock()
}

// OnDurationChange registers the total-duration change notification
func (p *Player) OnDurationChange(fn func(total float64)) {
	p.mu.Lock()
	p.onDurationChange = fn
	p.mu.Unlock()
}

// OnPlayState registers the play-state notification. It is never invoked
// from inside the auto-advance transition window.
func (p *Player) OnPlayState(fn func(playing bool)) {
	p.mu.Lock()
	p.onPlayState = fn
	p.mu.Unlock()
}

// SetCatalog supplies a new chunk catalog, invalidating all state, timers,
// and in-flight events of any previous catalog. Loading of the first chunk
// begins immediately; playback does not start until Play.
func (p *Player) SetCatalog(cat *models.Catalog) {
	p.mu.Lock()
	p.resetLocked()

	p.initURL = cat.InitURL
	p.urls = make([]string, 0, len(cat.Media))
	for _, seg := range cat.Media {
		p.urls = append(p.urls, seg.URL)
	}

	if len(p.urls) == 0 {
		p.state = StateIdle
		p.mu.Unlock()
		return
	}

	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	p.current = 0
	notes := p.loadChunkLocked(0)
	go p.tickLoop(p.gen, p.runCtx)
	p.mu.Unlock()

	runAll(notes)
}

// SetTable installs a revised duration table from the estimator. Callers
// receive a duration-change notification with the new total.
func (p *Player) SetTable(tab *timeline.Table) {
	p.mu.Lock()
	p.table = tab
	fn := p.onDurationChange
	total := tab.Total()
	p.mu.Unlock()

	if fn != nil {
		fn(total)
	}
}

// Play starts or resumes playback. Safe to call before the current chunk
// is ready (the intent is queued against readiness) and idempotent while
// already playing.
func (p *Player) Play() {
	p.mu.Lock()
	if p.closed || p.state == StateFailed {
		p.mu.Unlock()
		return
	}

	alreadyPlaying := p.state == StatePlaying
	p.wantPlaying = true

	var notes []func()
	if !alreadyPlaying && (p.state == StateReady || p.state == StatePaused) {
		p.elem.Play()
		notes = p.toStateLocked(StatePlaying)
		notes = append(notes, p.playStateNoteLocked(true)...)
	}
	p.mu.Unlock()

	runAll(notes)
}

// Pause pauses playback. Idempotent; a pause issued during a chunk load is
// remembered and wins over the queued play intent.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	wasPlaying := p.state == StatePlaying
	p.wantPlaying = false

	var notes []func()
	if wasPlaying {
		p.elem.Pause()
		notes = p.toStateLocked(StatePaused)
		notes = append(notes, p.playStateNoteLocked(false)...)
	}
	p.mu.Unlock()

	runAll(notes)
}

// SeekToGlobalTime seeks to a position on the virtual continuous timeline.
// Before the duration table is populated a uniform per-chunk estimate keeps
// seeking usable. Times past the end clamp to the end of the last chunk.
func (p *Player) SeekToGlobalTime(t float64) {
	p.mu.Lock()
	if p.closed || len(p.urls) == 0 {
		p.mu.Unlock()
		return
	}

	idx, offset := p.locateLocked(t)

	var notes []func()
	if idx != p.current {
		p.current = idx
		p.retries = 0
		p.pendingSeek = offset
		p.inTransition = false
		notes = p.loadChunkLocked(idx)
	} else if p.state == StateReady || p.state == StatePlaying || p.state == StatePaused {
		p.elem.Seek(offset)
		p.pendingSeek = -1
	} else if p.state == StateEnded {
		// Rewinding within the final chunk reopens the session paused.
		p.elem.Seek(offset)
		p.pendingSeek = -1
		notes = p.toStateLocked(StatePaused)
	} else {
		// Chunk still loading; apply once it can seek.
		p.pendingSeek = offset
	}
	p.mu.Unlock()

	runAll(notes)
}

// GlobalCurrentTime returns the sum of fully-elapsed prior chunk durations
// plus the active element's reported position.
func (p *Player) GlobalCurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	local := 0.0
	switch {
	case p.state == StateReady || p.state == StatePlaying || p.state == StatePaused:
		local = p.elem.CurrentTime()
	case p.pendingSeek >= 0:
		local = p.pendingSeek
	case p.state == StateEnded && p.elem != nil:
		local = p.elem.CurrentTime()
	}

	return p.startOfLocked(p.current) + local
}

// TotalDuration returns the stream's total duration, estimated uniformly
// until the duration table arrives.
func (p *Player) TotalDuration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.table != nil && p.table.Len() > 0 {
		return p.table.Total()
	}
	return float64(len(p.urls)) * p.cfg.DefaultChunkSecs
}

// CurrentChunk returns the index of the chunk currently bound to the element
func (p *Player) CurrentChunk() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// State returns the current lifecycle state
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the terminal error, if the player failed
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// IsPlaying reports the playback intent: true from Play until Pause, end of
// stream, or failure, including across chunk-boundary transitions.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wantPlaying && p.state != StateEnded && p.state != StateFailed
}

// InTransition reports whether an auto-advance between chunks is in
// flight. Observers must not treat player state as user intent while true.
func (p *Player) InTransition() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inTransition
}

// Close tears the player down, invalidating all timers and listeners
func (p *Player) Close() {
	p.mu.Lock()
	p.resetLocked()
	p.closed = true
	p.mu.Unlock()
}

// handle is the single entry point for asynchronous events. Stale
// generations are dropped before dispatch; notifications collected by the
// dispatcher run outside the lock.
func (p *Player) handle(ev event) {
	p.mu.Lock()
	if p.closed || ev.gen != p.gen {
		p.mu.Unlock()
		return
	}
	notes := p.dispatch(ev)
	p.mu.Unlock()

	runAll(notes)
}

// dispatch applies one state-transition event. Must be called with the lock
// held; returns notifications to run after release.
func (p *Player) dispatch(ev event) []func() {
	switch ev.kind {
	case evCanPlay:
		return p.onCanPlayLocked(ev.idx)
	case evEnded:
		return p.onEndedLocked(ev.idx)
	case evError:
		return p.onErrorLocked(ev.idx, ev.err)
	case evRetry:
		if p.state == StateRetrying && ev.idx == p.current {
			return p.loadChunkLocked(p.current)
		}
	case evWatchdog:
		return p.onWatchdogLocked()
	case evPrefetchTick:
		p.onPrefetchTickLocked()
	}
	return nil
}

func (p *Player) onCanPlayLocked(idx int) []func() {
	if idx != p.current || (p.state != StateLoading && p.state != StateRetrying) {
		return nil
	}

	p.everReady = true
	p.retries = 0
	metrics.ChunkLoadsTotal.WithLabelValues(p.stream, "ok").Inc()

	if p.pendingSeek >= 0 {
		p.elem.Seek(p.pendingSeek)
		p.pendingSeek = -1
	}

	notes := p.toStateLocked(StateReady)
	if p.wantPlaying {
		p.elem.Play()
		notes = append(notes, p.toStateLocked(StatePlaying)...)
		notes = append(notes, p.playStateNoteLocked(true)...)
	}
	p.inTransition = false

	return notes
}

func (p *Player) onEndedLocked(idx int) []func() {
	if idx != p.current || p.state != StatePlaying {
		return nil
	}

	if p.current >= len(p.urls)-1 {
		p.wantPlaying = false
		notes := p.toStateLocked(StateEnded)
		return append(notes, p.playStateNoteLocked(false)...)
	}

	// Auto-advance: begin loading the next chunk immediately. The guard
	// flag suppresses play-state observations until the new chunk resumes,
	// so the brief gap never looks like a user pause.
	p.inTransition = true
	p.current++
	p.retries = 0
	p.pendingSeek = -1
	return p.loadChunkLocked(p.current)
}

func (p *Player) onErrorLocked(idx int, err error) []func() {
	if idx != p.current {
		return nil
	}

	if p.retries < p.cfg.MaxRetries {
		p.retries++
		metrics.ChunkRetriesTotal.Inc()
		metrics.ChunkLoadsTotal.WithLabelValues(p.stream, "retry").Inc()
		p.log.WithChunk(idx).WithError(err).
			Warnf("Chunk load failed, retry %d/%d", p.retries, p.cfg.MaxRetries)

		notes := p.toStateLocked(StateRetrying)
		gen := p.gen
		time.AfterFunc(p.cfg.RetryBackoff, func() {
			p.handle(event{kind: evRetry, gen: gen, idx: idx})
		})
		return notes
	}

	// Retries exhausted.
	if !p.everReady && idx == 0 {
		p.lastErr = ErrFirstChunkFailed
		p.wantPlaying = false
		metrics.ChunkLoadsTotal.WithLabelValues(p.stream, "failed").Inc()
		p.log.WithChunk(idx).ErrorWithErr("First chunk failed after retries", err)
		notes := p.toStateLocked(StateFailed)
		return append(notes, p.playStateNoteLocked(false)...)
	}

	metrics.ChunkLoadsTotal.WithLabelValues(p.stream, "skipped").Inc()
	p.log.WithChunk(idx).ErrorWithErr("Chunk failed after retries, skipping", err)

	if p.current >= len(p.urls)-1 {
		p.wantPlaying = false
		notes := p.toStateLocked(StateEnded)
		return append(notes, p.playStateNoteLocked(false)...)
	}

	p.inTransition = true
	p.current++
	p.retries = 0
	p.pendingSeek = -1
	return p.loadChunkLocked(p.current)
}

// onWatchdogLocked enforces intent against observed element state: a queued
// play is applied once ready, and a missed ended signal is synthesized when
// the element has run off the end of its chunk.
func (p *Player) onWatchdogLocked() []func() {
	if p.state == StateReady && p.wantPlaying {
		p.elem.Play()
		notes := p.toStateLocked(StatePlaying)
		return append(notes, p.playStateNoteLocked(true)...)
	}

	if p.state == StatePlaying && p.elem != nil {
		d := p.elem.Duration()
		if d > 0 && p.elem.CurrentTime() >= d {
			return p.onEndedLocked(p.current)
		}
	}
	return nil
}

func (p *Player) onPrefetchTickLocked() {
	if p.prefetcher == nil || p.runCtx == nil {
		return
	}
	if p.state != StatePlaying {
		return
	}

	d := p.elem.Duration()
	if d <= 0 || p.elem.CurrentTime()/d >= p.cfg.PrefetchThreshold {
		p.prefetcher.WarmAhead(p.runCtx, p.urls, p.current)
	}
}

// loadChunkLocked replaces the element and begins loading chunk idx
func (p *Player) loadChunkLocked(idx int) []func() {
	if p.elem != nil {
		p.elem.Close()
		p.elem = nil
	}

	sink := &elementSink{p: p, gen: p.gen, idx: idx}
	p.elem = p.newElement(sink)
	notes := p.toStateLocked(StateLoading)

	if fn := p.onChunkChange; fn != nil {
		i := idx
		notes = append(notes, func() { fn(i) })
	}

	p.elem.Load(p.urls[idx])

	if p.prefetcher != nil && p.runCtx != nil {
		p.prefetcher.WarmAhead(p.runCtx, p.urls, idx)
	}

	return notes
}

// locateLocked translates a global time to (chunk, offset), falling back to
// uniform estimates when the table is not yet populated.
func (p *Player) locateLocked(t float64) (int, float64) {
	if p.table != nil && p.table.Len() > 0 {
		return p.table.Locate(t)
	}

	if t <= 0 {
		return 0, 0
	}
	idx := int(t / p.cfg.DefaultChunkSecs)
	if idx >= len(p.urls) {
		return len(p.urls) - 1, p.cfg.DefaultChunkSecs
	}
	return idx, t - float64(idx)*p.cfg.DefaultChunkSecs
}

func (p *Player) startOfLocked(idx int) float64 {
	if p.table != nil && p.table.Len() > 0 {
		return p.table.StartOf(idx)
	}
	return float64(idx) * p.cfg.DefaultChunkSecs
}

func (p *Player) toStateLocked(s State) []func() {
	if p.state == s {
		return nil
	}
	from := p.state
	p.state = s
	p.log.LogChunkTransition("", p.stream, p.current, from.String(), s.String())
	return nil
}

// playStateNoteLocked builds the play-state notification, suppressed inside
// the transition-guard window.
func (p *Player) playStateNoteLocked(playing bool) []func() {
	if p.inTransition {
		return nil
	}
	fn := p.onPlayState
	if fn == nil {
		return nil
	}
	v := playing
	return []func(){func() { fn(v) }}
}

// resetLocked invalidates the current catalog: bumps the generation so
// in-flight events and timers become no-ops, closes the element, and stops
// the tick loop.
func (p *Player) resetLocked() {
	p.gen++
	if p.runCancel != nil {
		p.runCancel()
		p.runCtx, p.runCancel = nil, nil
	}
	if p.elem != nil {
		p.elem.Close()
		p.elem = nil
	}
	if p.prefetcher != nil {
		p.prefetcher.Reset()
	}
	p.urls = nil
	p.initURL = ""
	p.table = nil
	p.state = StateIdle
	p.current = 0
	p.retries = 0
	p.wantPlaying = false
	p.pendingSeek = -1
	p.inTransition = false
	p.everReady = false
	p.lastErr = nil
}

// tickLoop drives the prefetch interval and the watchdog for one catalog
// generation. It exits when the catalog is replaced or the player closed.
func (p *Player) tickLoop(gen uint64, ctx context.Context) {
	prefetch := time.NewTicker(p.cfg.PrefetchInterval)
	watchdog := time.NewTicker(p.cfg.WatchdogInterval)
	defer prefetch.Stop()
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prefetch.C:
			p.handle(event{kind: evPrefetchTick, gen: gen})
		case <-watchdog.C:
			p.handle(event{kind: evWatchdog, gen: gen})
		}
	}
}

func runAll(notes []func()) {
	for _, n := range notes {
		n()
	}
}
