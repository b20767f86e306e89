// Package live wraps adaptive-streaming playback for sessions still in
// progress, whose manifest is polled into existence while the recorder
// keeps appending to it.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
)

// ErrManifestNotFound is returned when the poll attempt cap is reached
// before the manifest appears.
var ErrManifestNotFound = errors.New("manifest not found")

// ErrAccessDenied marks permission and quota failures, surfaced
// immediately without retry since polling will not fix them.
var ErrAccessDenied = errors.New("manifest access denied")

// Config holds live adapter tuning
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int // 0 = unlimited
	RetryDelay   time.Duration
	RebuildDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RebuildDelay <= 0 {
		c.RebuildDelay = 2 * time.Second
	}
	return c
}

// Status is the adapter's externally visible state
type Status struct {
	Attached       bool    `json:"attached"`
	Live           bool    `json:"live"`
	AutoPlay       bool    `json:"auto_play"`
	Muted          bool    `json:"muted"`
	SegmentCount   int     `json:"segment_count"`
	TargetDuration float64 `json:"target_duration"`
	Rebuilds       int     `json:"rebuilds"`
	Err            string  `json:"error,omitempty"`
}

// Poller waits for a manifest to come into existence. The recorder writes
// the playlist only once the first segment lands, so absence is an
// expected transient, not an error.
type Poller struct {
	client      *http.Client
	interval    time.Duration
	maxAttempts int
	log         *logging.Logger
}

// NewPoller creates a poller. maxAttempts of 0 polls indefinitely; tests
// bound it with a small override instead of relying on wall-clock time.
func NewPoller(client *http.Client, interval time.Duration, maxAttempts int, log *logging.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{client: client, interval: interval, maxAttempts: maxAttempts, log: log}
}

// Wait polls url until it is retrievable, the attempt cap is reached, or
// ctx is cancelled. Permission errors abort immediately.
func (p *Poller) Wait(ctx context.Context, url string) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		found, err := p.probe(ctx, url)
		if err != nil {
			return err
		}
		if found {
			metrics.ManifestPollsTotal.WithLabelValues("found").Inc()
			p.log.Debugf("Manifest found after %d attempts", attempt)
			return nil
		}

		metrics.ManifestPollsTotal.WithLabelValues("missing").Inc()
		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrManifestNotFound, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Network trouble counts as "not yet", the manifest may still appear.
		metrics.ManifestPollsTotal.WithLabelValues("error").Inc()
		return false, nil
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%w: status %d", ErrAccessDenied, resp.StatusCode)
	default:
		return false, nil
	}
}

// Adapter attaches to a live manifest once the poller finds it and keeps
// refreshing the playlist, which is expected to grow while the session is
// in progress. Network errors restart the load, parse errors recover in
// place on the next refresh, and anything else tears the client down and
// rebuilds it after a short delay.
type Adapter struct {
	mu       sync.Mutex
	client   *http.Client
	url      string
	cfg      Config
	log      *logging.Logger
	status   Status
	onStatus func(Status)
}

// NewAdapter creates an adapter for the given manifest URL
func NewAdapter(client *http.Client, url string, cfg Config, log *logging.Logger) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{
		client: client,
		url:    url,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// OnStatus registers the status-change notification
func (a *Adapter) OnStatus(fn func(Status)) {
	a.mu.Lock()
	a.onStatus = fn
	a.mu.Unlock()
}

// Status returns a snapshot of the adapter state
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Run polls the manifest into existence and then consumes it until ctx is
// cancelled. It returns only on cancellation or a terminal error.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		poller := NewPoller(a.client, a.cfg.PollInterval, a.cfg.MaxAttempts, a.log)
		if err := poller.Wait(ctx, a.url); err != nil {
			a.setErr(err)
			return err
		}

		err := a.consume(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		// Full teardown and rebuild after a short delay.
		a.mu.Lock()
		a.status = Status{Rebuilds: a.status.Rebuilds + 1, Err: err.Error()}
		a.notifyLocked()
		a.mu.Unlock()

		metrics.LiveRebuildsTotal.Inc()
		a.log.WithError(err).Warn("Live client rebuild")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.RebuildDelay):
		}
	}
}

// consume refreshes the playlist at the poll interval. It returns nil on
// cancellation and an error only for conditions requiring a rebuild.
func (a *Adapter) consume(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := a.refresh(ctx); err != nil {
			if errors.Is(err, ErrAccessDenied) {
				return err
			}
			// Transient: retry without limit, the manifest grows live.
			a.log.WithError(err).Debug("Manifest refresh failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.cfg.RetryDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Adapter) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("manifest load failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAccessDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("manifest load returned status %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		// Decode trouble recovers in place: keep the previous status and
		// try again on the next refresh.
		return fmt.Errorf("manifest decode failed: %w", err)
	}

	if listType != m3u8.MEDIA {
		return fmt.Errorf("unexpected playlist type %v", listType)
	}
	media := playlist.(*m3u8.MediaPlaylist)

	segments := 0
	for _, seg := range media.Segments {
		if seg != nil {
			segments++
		}
	}

	live := !media.Closed

	a.mu.Lock()
	a.status.Attached = true
	a.status.Live = live
	// Live sessions auto-start muted so the observer can attach mid-interview.
	a.status.AutoPlay = live
	a.status.Muted = live
	a.status.SegmentCount = segments
	a.status.TargetDuration = media.TargetDuration
	a.status.Err = ""
	a.notifyLocked()
	a.mu.Unlock()

	return nil
}

func (a *Adapter) setErr(err error) {
	a.mu.Lock()
	a.status.Err = err.Error()
	a.notifyLocked()
	a.mu.Unlock()
}

func (a *Adapter) notifyLocked() {
	if a.onStatus != nil {
		fn := a.onStatus
		st := a.status
		go fn(st)
	}
}
