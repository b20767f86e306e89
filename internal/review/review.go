// Package review owns the lifecycle of active review sessions. A session
// composes the full playback pipeline for one recorded interview: two
// resolved catalogs, two chunk players with their own prefetchers, a
// synchronizer keeping them aligned, and optionally a live adapter when
// the interview is still in progress.
package review

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proctorview/playback/internal/cache"
	"github.com/proctorview/playback/internal/catalog"
	"github.com/proctorview/playback/internal/config"
	"github.com/proctorview/playback/internal/live"
	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
	"github.com/proctorview/playback/internal/player"
	"github.com/proctorview/playback/internal/playersync"
	"github.com/proctorview/playback/internal/timeline"
	"github.com/proctorview/playback/pkg/models"
)

// Session is one active review of a recorded interview
type Session struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	Screen *player.Player           `json:"-"`
	Camera *player.Player           `json:"-"`
	Sync   *playersync.Synchronizer `json:"-"`
	Live   *live.Adapter            `json:"-"`

	warm   []*player.WarmStore
	cancel context.CancelFunc
}

// Registry tracks active sessions by ID
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store  catalog.ObjectStore
	cache  *cache.Cache
	cfg    *config.Config
	client *http.Client
	log    *logging.Logger
}

// NewRegistry creates a session registry. cache may be nil, in which case
// every session resolves and probes from scratch.
func NewRegistry(store catalog.ObjectStore, c *cache.Cache, cfg *config.Config, client *http.Client, log *logging.Logger) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		cache:    c,
		cfg:      cfg,
		client:   client,
		log:      log,
	}
}

// Create resolves both stream catalogs for a recording session and wires
// up the playback pipeline. liveManifestURL, when non-empty, additionally
// attaches a live adapter for an in-progress interview.
func (r *Registry) Create(ctx context.Context, sessionID, liveManifestURL string) (*Session, error) {
	resolver := catalog.NewResolver(r.store, r.log)

	screenCat, err := r.resolveCatalog(ctx, resolver, models.StreamScreen, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve screen catalog: %w", err)
	}
	cameraCat, err := r.resolveCatalog(ctx, resolver, models.StreamCamera, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve camera catalog: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	session := &Session{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	session.Screen = r.buildPlayer(runCtx, session, models.StreamScreen, screenCat)
	session.Camera = r.buildPlayer(runCtx, session, models.StreamCamera, cameraCat)

	session.Sync = playersync.New(session.Screen, session.Camera, playersync.Config{
		DriftThreshold:    r.cfg.Sync.DriftThreshold,
		Cooldown:          r.cfg.Sync.Cooldown,
		ReconcileInterval: r.cfg.Sync.ReconcileInterval,
	}, r.log.WithSessionID(sessionID))

	if liveManifestURL != "" {
		session.Live = live.NewAdapter(r.client, liveManifestURL, live.Config{
			PollInterval: r.cfg.Live.PollInterval,
			MaxAttempts:  r.cfg.Live.MaxAttempts,
			RetryDelay:   r.cfg.Live.RetryDelay,
			RebuildDelay: r.cfg.Live.RebuildDelay,
		}, r.log.WithSessionID(sessionID))
		go session.Live.Run(runCtx)
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.log.WithSessionID(sessionID).Infof("Review session %s created", session.ID)

	return session, nil
}

// resolveCatalog checks the cache before listing storage
func (r *Registry) resolveCatalog(ctx context.Context, resolver *catalog.Resolver, kind models.StreamKind, sessionID string) (*models.Catalog, error) {
	if r.cache != nil {
		cached, err := r.cache.GetCatalog(ctx, kind, sessionID)
		if err != nil {
			r.log.WithError(err).Warn("Catalog cache lookup failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	cat, err := resolver.Resolve(ctx, kind, sessionID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetCatalog(ctx, cat, r.cfg.Storage.CatalogCacheTTL); err != nil {
			r.log.WithError(err).Warn("Catalog cache store failed")
		}
	}

	return cat, nil
}

// buildPlayer assembles one stream's playback pipeline and kicks off
// duration estimation in the background.
func (r *Registry) buildPlayer(ctx context.Context, session *Session, kind models.StreamKind, cat *models.Catalog) *player.Player {
	log := r.log.WithSessionID(session.SessionID).WithStream(string(kind))

	warm := player.NewWarmStore()
	session.warm = append(session.warm, warm)

	fetcher := player.NewHTTPFetcher(r.client, warm, log)
	prefetcher := player.NewPrefetcher(fetcher, r.cfg.Player.PrefetchDepth, log)
	factory := player.NewClockElementFactory(fetcher, r.cfg.Player.DefaultChunkSecs, log)

	p := player.New(kind, factory, prefetcher, player.Config{
		MaxRetries:        r.cfg.Player.MaxRetries,
		RetryBackoff:      r.cfg.Player.RetryBackoff,
		PrefetchDepth:     r.cfg.Player.PrefetchDepth,
		PrefetchThreshold: r.cfg.Player.PrefetchThreshold,
		PrefetchInterval:  r.cfg.Player.PrefetchInterval,
		WatchdogInterval:  r.cfg.Player.WatchdogInterval,
		DefaultChunkSecs:  r.cfg.Player.DefaultChunkSecs,
	}, log)

	p.SetCatalog(cat)
	go r.estimateDurations(ctx, kind, session.SessionID, cat, p, log)

	return p
}

// estimateDurations feeds the player progressively refined duration
// tables, reusing cached measurements when a prior review already probed
// this stream.
func (r *Registry) estimateDurations(ctx context.Context, kind models.StreamKind, sessionID string, cat *models.Catalog, p *player.Player, log *logging.Logger) {
	if r.cache != nil {
		cached, err := r.cache.GetDurations(ctx, kind, sessionID)
		if err != nil {
			log.WithError(err).Warn("Duration cache lookup failed")
		} else if len(cached) == len(cat.Media) && len(cached) > 0 {
			durations := make([]float64, len(cached))
			for i, d := range cached {
				durations[i] = d.Duration
			}
			p.SetTable(timeline.Build(durations))
			log.Debug("Duration table restored from cache")
			return
		}
	}

	prober := timeline.NewHTTPProber(r.client, log)
	estimator := timeline.NewEstimator(prober, r.cfg.Player.ProbeTimeout, r.cfg.Player.DefaultChunkSecs, log)

	urls := make([]string, len(cat.Media))
	for i, seg := range cat.Media {
		urls[i] = seg.URL
	}

	final := estimator.Estimate(ctx, urls, func(tab *timeline.Table) {
		p.SetTable(tab)
	})

	if r.cache != nil && final != nil && ctx.Err() == nil {
		if err := r.cache.SetDurations(ctx, kind, sessionID, final.Chunks(), r.cfg.Storage.CatalogCacheTTL); err != nil {
			log.WithError(err).Warn("Duration cache store failed")
		}
	}
}

// Get returns the session with the given ID
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all active sessions
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SeekToAnomaly jumps both streams to a flagged moment
func (r *Registry) SeekToAnomaly(id string, anomaly *models.Anomaly) error {
	session, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	metrics.SeeksTotal.WithLabelValues("anomaly").Inc()
	session.Sync.SeekToGlobalTime(anomaly.Time)
	return nil
}

// Close tears down one session and releases its buffers
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	session.teardown()
	metrics.ActiveSessions.Dec()
	r.log.Infof("Review session %s closed", id)
	return nil
}

// CloseAll tears down every active session, used at shutdown
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.teardown()
		metrics.ActiveSessions.Dec()
	}
}

func (s *Session) teardown() {
	s.cancel()
	s.Sync.Close()
	for _, w := range s.warm {
		w.Clear()
	}
}
