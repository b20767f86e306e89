// Package playersync keeps two independently-buffering chunk players in
// lockstep, presenting one play/pause/seek/time surface to the review UI.
package playersync

import (
	"math"
	"sync"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
)

// StreamPlayer is the per-stream surface the synchronizer coordinates. It
// only reads exposed time and state and issues commands, never reaching
// into a player's internals; each player owns its element exclusively.
type StreamPlayer interface {
	Play()
	Pause()
	SeekToGlobalTime(t float64)
	GlobalCurrentTime() float64
	TotalDuration() float64
	IsPlaying() bool
	InTransition() bool
	OnPlayState(fn func(playing bool))
	OnDurationChange(fn func(total float64))
	Close()
}

// Config holds synchronization tuning
type Config struct {
	DriftThreshold    float64
	Cooldown          time.Duration
	ReconcileInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = 1.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Second
	}
	return c
}

// Synchronizer composes the screen and camera players of one session. The
// more-advanced stream defines "now"; drift is periodically reconciled by
// seeking both players to the unified time.
type Synchronizer struct {
	mu     sync.Mutex
	screen StreamPlayer
	camera StreamPlayer
	cfg    Config
	log    *logging.Logger

	isPlaying bool
	lastSync  time.Time
	closed    bool
	stop      chan struct{}

	onTime     func(t float64)
	onDuration func(total float64)
}

// New creates a synchronizer over the two players and starts the periodic
// reconcile loop. The synchronizer takes ownership of both players.
func New(screen, camera StreamPlayer, cfg Config, log *logging.Logger) *Synchronizer {
	s := &Synchronizer{
		screen: screen,
		camera: camera,
		cfg:    cfg.withDefaults(),
		log:    log,
		stop:   make(chan struct{}),
	}

	screen.OnPlayState(s.observePlayState)
	camera.OnPlayState(s.observePlayState)
	screen.OnDurationChange(func(float64) { s.emitDuration() })
	camera.OnDurationChange(func(float64) { s.emitDuration() })

	go s.reconcileLoop()
	return s
}

// OnTime registers the unified-time notification, fired from the reconcile
// loop at its interval.
func (s *Synchronizer) OnTime(fn func(t float64)) {
	s.mu.Lock()
	s.onTime = fn
	s.mu.Unlock()
}

// OnDuration registers the unified-duration notification
func (s *Synchronizer) OnDuration(fn func(total float64)) {
	s.mu.Lock()
	s.onDuration = fn
	s.mu.Unlock()
}

// Play starts both streams
func (s *Synchronizer) Play() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.isPlaying = true
	s.mu.Unlock()

	s.screen.Play()
	s.camera.Play()
}

// Pause pauses both streams
func (s *Synchronizer) Pause() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.isPlaying = false
	s.mu.Unlock()

	s.screen.Pause()
	s.camera.Pause()
}

// SeekToGlobalTime seeks both streams to the same global time. Each player
// resolves its own chunk/offset, so local chunk indices may differ while
// the global position converges. The sync cooldown restarts so the seek
// itself is not immediately "corrected".
func (s *Synchronizer) SeekToGlobalTime(t float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastSync = time.Now()
	s.mu.Unlock()

	s.screen.SeekToGlobalTime(t)
	s.camera.SeekToGlobalTime(t)
}

// CurrentTime returns the unified playback position: the larger of the two
// streams' reported global times.
func (s *Synchronizer) CurrentTime() float64 {
	return math.Max(s.screen.GlobalCurrentTime(), s.camera.GlobalCurrentTime())
}

// TotalDuration returns the unified duration: the maximum of the two
// streams' totals. A session is not complete at the shorter stream's end.
func (s *Synchronizer) TotalDuration() float64 {
	return math.Max(s.screen.TotalDuration(), s.camera.TotalDuration())
}

// IsPlaying reports the unified play flag
func (s *Synchronizer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPlaying
}

// Close stops reconciliation and tears down both players
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.screen.Close()
	s.camera.Close()
}

// observePlayState folds a player's own play/pause events into the unified
// flag, ignored while either player is inside its chunk-boundary
// transition window so a boundary blip never reads as a user pause.
func (s *Synchronizer) observePlayState(playing bool) {
	if s.screen.InTransition() || s.camera.InTransition() {
		return
	}

	s.mu.Lock()
	s.isPlaying = playing
	s.mu.Unlock()
}

func (s *Synchronizer) emitDuration() {
	s.mu.Lock()
	fn := s.onDuration
	s.mu.Unlock()

	if fn != nil {
		fn(s.TotalDuration())
	}
}

func (s *Synchronizer) reconcileLoop() {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

// reconcile reads both streams' times and issues at most one corrective
// seek per cooldown window.
func (s *Synchronizer) reconcile() {
	if s.screen.InTransition() || s.camera.InTransition() {
		return
	}

	screenT := s.screen.GlobalCurrentTime()
	cameraT := s.camera.GlobalCurrentTime()

	s.mu.Lock()
	playing := s.isPlaying
	sinceLast := time.Since(s.lastSync)
	fn := s.onTime
	s.mu.Unlock()

	if screenT > 0 && cameraT > 0 {
		metrics.DriftSeconds.Observe(math.Abs(screenT - cameraT))
	}

	target, ok := decideCorrection(screenT, cameraT, playing, sinceLast, s.cfg.DriftThreshold, s.cfg.Cooldown)
	if ok {
		s.mu.Lock()
		s.lastSync = time.Now()
		s.mu.Unlock()

		metrics.DriftCorrectionsTotal.Inc()
		metrics.SeeksTotal.WithLabelValues("corrective").Inc()
		s.log.LogDriftCorrection("", screenT, cameraT, target)

		s.screen.SeekToGlobalTime(target)
		s.camera.SeekToGlobalTime(target)
	}

	if fn != nil {
		fn(math.Max(screenT, cameraT))
	}
}

// decideCorrection is the stateless reconciliation rule. A corrective seek
// fires only when both streams report strictly positive time, the pair is
// playing, the drift exceeds the threshold, and the cooldown has elapsed.
// The target is the more-advanced stream's time.
func decideCorrection(screenT, cameraT float64, playing bool, sinceLast time.Duration, threshold float64, cooldown time.Duration) (float64, bool) {
	if !playing {
		return 0, false
	}
	if screenT <= 0 || cameraT <= 0 {
		return 0, false
	}
	if math.Abs(screenT-cameraT) <= threshold {
		return 0, false
	}
	if sinceLast < cooldown {
		return 0, false
	}
	return math.Max(screenT, cameraT), true
}
