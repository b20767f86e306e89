package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
	"github.com/proctorview/playback/pkg/models"
)

// ErrNoSegments is returned when a session folder exists but holds no
// playable media segments. The UI renders this as "no recording available".
var ErrNoSegments = errors.New("no segments found")

// chunkPattern extracts the ordering token from segment names like
// "chunk007.m4s". The recorder zero-pads, but the match does not rely on it.
var chunkPattern = regexp.MustCompile(`chunk(\d+)`)

const initPrefix = "init."

// ObjectStore is the storage collaborator the resolver lists and resolves
// segments through.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GetURL(ctx context.Context, objectName string) (string, error)
}

// Resolver turns a session's storage folder into a playback-ready catalog.
type Resolver struct {
	store ObjectStore
	log   *logging.Logger
}

// NewResolver creates a catalog resolver over the given store
func NewResolver(store ObjectStore, log *logging.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// Resolve lists all objects for one stream of a session, orders the media
// segments, and resolves each to a presigned URL. An optional init segment
// is kept first. Segments whose URL resolution fails are omitted rather
// than aborting the whole catalog.
func (r *Resolver) Resolve(ctx context.Context, kind models.StreamKind, sessionID string) (*models.Catalog, error) {
	prefix := fmt.Sprintf("%s/%s/", kind, sessionID)
	start := time.Now()

	objects, err := r.store.List(ctx, prefix)
	if err != nil {
		metrics.CatalogResolutionsTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("failed to list segments under %s: %w", prefix, err)
	}

	var initObject string
	var media []string
	for _, obj := range objects {
		base := path.Base(obj)
		if strings.HasPrefix(base, initPrefix) {
			initObject = obj
			continue
		}
		media = append(media, obj)
	}

	if len(media) == 0 {
		metrics.CatalogResolutionsTotal.WithLabelValues(string(kind), "empty").Inc()
		return nil, fmt.Errorf("%w under %s", ErrNoSegments, prefix)
	}

	sortSegments(media)

	cat := &models.Catalog{
		SessionID: sessionID,
		Kind:      kind,
	}

	if initObject != "" {
		url, err := r.store.GetURL(ctx, initObject)
		if err != nil {
			r.log.WithSessionID(sessionID).WithStream(string(kind)).
				ErrorWithErr("Failed to resolve init segment URL, continuing without it", err)
		} else {
			cat.InitURL = url
		}
	}

	for _, obj := range media {
		url, err := r.store.GetURL(ctx, obj)
		if err != nil {
			// Omitting one segment beats aborting the whole catalog.
			r.log.WithSessionID(sessionID).WithStream(string(kind)).
				ErrorWithErr(fmt.Sprintf("Failed to resolve URL for %s, omitting", obj), err)
			continue
		}
		cat.Media = append(cat.Media, models.Segment{
			Index: len(cat.Media),
			Name:  path.Base(obj),
			URL:   url,
		})
	}

	if len(cat.Media) == 0 {
		metrics.CatalogResolutionsTotal.WithLabelValues(string(kind), "empty").Inc()
		return nil, fmt.Errorf("%w: all URL resolutions failed under %s", ErrNoSegments, prefix)
	}

	metrics.CatalogResolutionsTotal.WithLabelValues(string(kind), "ok").Inc()
	metrics.CatalogSegments.Observe(float64(len(cat.Media)))

	r.log.WithSessionID(sessionID).WithStream(string(kind)).
		Infof("Resolved catalog: %d media segments in %v (init: %v)",
			len(cat.Media), time.Since(start), cat.InitURL != "")

	return cat, nil
}

// sortSegments orders segment object names by the numeric token in their
// base name, falling back to natural string comparison for names without
// one.
func sortSegments(objects []string) {
	sort.SliceStable(objects, func(i, j int) bool {
		ni, oki := chunkNumber(objects[i])
		nj, okj := chunkNumber(objects[j])
		if oki && okj {
			if ni != nj {
				return ni < nj
			}
			return naturalLess(path.Base(objects[i]), path.Base(objects[j]))
		}
		return naturalLess(path.Base(objects[i]), path.Base(objects[j]))
	})
}

// chunkNumber extracts the chunk<N> token from an object name
func chunkNumber(objectName string) (int, bool) {
	m := chunkPattern.FindStringSubmatch(path.Base(objectName))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// naturalLess compares two strings treating digit runs as numbers, so
// "chunk2" sorts before "chunk10" even without zero padding.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := leadingInt(a)
			nb, rb := leadingInt(b)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func leadingInt(s string) (int64, string) {
	i := 0
	var n int64
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int64(s[i]-'0')
		i++
	}
	return n, s[i:]
}
