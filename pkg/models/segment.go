package models

// StreamKind identifies which capture a chunk sequence belongs to
type StreamKind string

// Stream kinds, matching the storage folder layout
const (
	StreamScreen StreamKind = "screen"
	StreamCamera StreamKind = "camera"
)

// Valid reports whether k is one of the known stream kinds
func (k StreamKind) Valid() bool {
	return k == StreamScreen || k == StreamCamera
}

// Segment is a single stored media fragment, discovered at catalog
// resolution time and immutable thereafter.
type Segment struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// ChunkDuration is one row of the cumulative timeline table. StartTime
// and EndTime are offsets in seconds into the virtual global timeline.
type ChunkDuration struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
}

// Catalog is the playback-ready output of catalog resolution: an optional
// initialization segment followed by ordered media segments.
type Catalog struct {
	SessionID string     `json:"session_id"`
	Kind      StreamKind `json:"kind"`
	InitURL   string     `json:"init_url,omitempty"`
	Media     []Segment  `json:"media"`
}

// URLs returns the resolved URL list with the init segment, if any, first.
func (c *Catalog) URLs() []string {
	urls := make([]string, 0, len(c.Media)+1)
	if c.InitURL != "" {
		urls = append(urls, c.InitURL)
	}
	for _, s := range c.Media {
		urls = append(urls, s.URL)
	}
	return urls
}
