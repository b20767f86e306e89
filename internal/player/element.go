package player

import (
	"context"
	"sync"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/timeline"
)

// MediaElement is the single-chunk playback surface a player exclusively
// owns. One element plays one chunk; the player replaces it on every chunk
// switch. Load is asynchronous: exactly one OnCanPlay or OnError follows.
// All callers go through the owning player, never touching the element
// directly.
type MediaElement interface {
	Load(url string)
	Play()
	Pause()
	Seek(offset float64)
	CurrentTime() float64
	Duration() float64
	Close()
}

// ElementEvents receives asynchronous element signals. Implementations
// must be safe to call from timer and fetch goroutines.
type ElementEvents interface {
	OnCanPlay()
	OnEnded()
	OnError(err error)
}

// ElementFactory builds a fresh element wired to the given event sink
type ElementFactory func(events ElementEvents) MediaElement

// clockElement is the headless element implementation: it fetches the
// chunk's bytes, measures the chunk duration from them, and then advances a
// simulated playback clock, firing OnEnded when the clock passes the
// duration. Review sessions driven over the API observe the same timing a
// browser element would report.
type clockElement struct {
	mu      sync.Mutex
	events  ElementEvents
	fetcher Fetcher
	log     *logging.Logger

	defaultDur float64

	url       string
	duration  float64
	ready     bool
	playing   bool
	pos       float64
	startedAt time.Time
	endTimer  *time.Timer
	cancel    context.CancelFunc
	closed    bool
}

// NewClockElementFactory returns a factory producing clock-driven elements
// backed by the given fetcher. defaultDur is used when a chunk's bytes
// yield no parseable duration.
func NewClockElementFactory(fetcher Fetcher, defaultDur float64, log *logging.Logger) ElementFactory {
	if defaultDur <= 0 {
		defaultDur = timeline.DefaultChunkSeconds
	}
	return func(events ElementEvents) MediaElement {
		return &clockElement{
			events:     events,
			fetcher:    fetcher,
			log:        log,
			defaultDur: defaultDur,
		}
	}
}

func (e *clockElement) Load(url string) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return
	}
	e.url = url
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		data, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() == nil {
				e.events.OnError(err)
			}
			return
		}

		dur, perr := timeline.DurationFromMP4Bytes(data)
		if perr != nil || dur <= 0 {
			dur = e.defaultDur
		}

		e.mu.Lock()
		if e.closed || ctx.Err() != nil {
			e.mu.Unlock()
			return
		}
		e.duration = dur
		e.ready = true
		e.mu.Unlock()

		e.events.OnCanPlay()
	}()
}

func (e *clockElement) Play() {
	e.mu.Lock()
	if e.closed || !e.ready || e.playing {
		e.mu.Unlock()
		return
	}
	if e.pos >= e.duration {
		e.pos = 0
	}
	e.playing = true
	e.startedAt = time.Now()
	e.armEndTimerLocked()
	e.mu.Unlock()
}

func (e *clockElement) Pause() {
	e.mu.Lock()
	if e.closed || !e.playing {
		e.mu.Unlock()
		return
	}
	e.pos = e.currentLocked()
	e.playing = false
	e.stopEndTimerLocked()
	e.mu.Unlock()
}

func (e *clockElement) Seek(offset float64) {
	e.mu.Lock()
	if e.closed || !e.ready {
		e.mu.Unlock()
		return
	}
	if offset < 0 {
		offset = 0
	}
	if offset > e.duration {
		offset = e.duration
	}
	e.pos = offset
	if e.playing {
		e.startedAt = time.Now()
		e.armEndTimerLocked()
	}
	e.mu.Unlock()
}

func (e *clockElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked()
}

func (e *clockElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *clockElement) Close() {
	e.mu.Lock()
	e.closed = true
	e.playing = false
	e.stopEndTimerLocked()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// currentLocked computes the simulated position: the position at the last
// state change plus wall time elapsed while playing.
func (e *clockElement) currentLocked() float64 {
	if !e.playing {
		return e.pos
	}
	pos := e.pos + time.Since(e.startedAt).Seconds()
	if pos > e.duration {
		pos = e.duration
	}
	return pos
}

func (e *clockElement) armEndTimerLocked() {
	e.stopEndTimerLocked()
	remaining := e.duration - e.pos
	if remaining < 0 {
		remaining = 0
	}
	e.endTimer = time.AfterFunc(time.Duration(remaining*float64(time.Second)), e.onEndTimer)
}

func (e *clockElement) stopEndTimerLocked() {
	if e.endTimer != nil {
		e.endTimer.Stop()
		e.endTimer = nil
	}
}

// onEndTimer fires the ended signal. The element lock is released before
// notifying so event sinks may call back into the element.
func (e *clockElement) onEndTimer() {
	e.mu.Lock()
	if e.closed || !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.pos = e.duration
	e.mu.Unlock()

	e.events.OnEnded()
}
