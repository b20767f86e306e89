package timeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/proctorview/playback/internal/logging"
)

// maxProbeBytes bounds how much of a segment the prober will pull. Chunks
// are a few seconds of video, well under this.
const maxProbeBytes = 32 << 20

// fallbackTimescale is used for fragments that carry no timescale of their
// own (media segments probed without their init segment). 90kHz is the
// conventional video track timescale.
const fallbackTimescale = 90000

// HTTPProber measures segment durations by fetching the segment and reading
// its MP4 box structure, without decoding any media.
type HTTPProber struct {
	client    *http.Client
	log       *logging.Logger
	timescale uint32
}

// NewHTTPProber creates a prober using the given client, or
// http.DefaultClient if nil.
func NewHTTPProber(client *http.Client, log *logging.Logger) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{
		client:    client,
		log:       log,
		timescale: fallbackTimescale,
	}
}

// ProbeDuration fetches a segment and returns its media duration in
// seconds. Works for both progressive MP4 (mvhd) and CMAF fragments
// (sidx, or trun sample durations as a last resort).
func (p *HTTPProber) ProbeDuration(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("probe fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBytes))
	if err != nil {
		return 0, fmt.Errorf("probe read failed: %w", err)
	}

	d, err := durationFromMP4(data, p.timescale)
	if err != nil {
		return 0, fmt.Errorf("probe parse failed: %w", err)
	}
	return d, nil
}

// DurationFromMP4Bytes extracts a duration in seconds from raw MP4 bytes,
// using the conventional 90kHz timescale for fragments that carry none.
func DurationFromMP4Bytes(data []byte) (float64, error) {
	return durationFromMP4(data, fallbackTimescale)
}

// durationFromMP4 extracts a duration in seconds from raw MP4 bytes
func durationFromMP4(data []byte, fallbackScale uint32) (float64, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	// Progressive files and init segments carry an mvhd.
	if f.Moov != nil && f.Moov.Mvhd != nil && f.Moov.Mvhd.Duration > 0 && f.Moov.Mvhd.Timescale > 0 {
		return float64(f.Moov.Mvhd.Duration) / float64(f.Moov.Mvhd.Timescale), nil
	}

	// CMAF segments usually lead with a sidx carrying its own timescale.
	if f.Sidx != nil && f.Sidx.Timescale > 0 {
		var total uint64
		for _, ref := range f.Sidx.SidxRefs {
			total += uint64(ref.SubSegmentDuration)
		}
		if total > 0 {
			return float64(total) / float64(f.Sidx.Timescale), nil
		}
	}

	// Last resort: sum sample durations out of the moof boxes. The
	// timescale is unknown without the init segment, so a conventional
	// fallback is assumed.
	var total uint64
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				var defaultDur uint32
				if traf.Tfhd != nil && traf.Tfhd.HasDefaultSampleDuration() {
					defaultDur = traf.Tfhd.DefaultSampleDuration
				}
				for _, trun := range traf.Truns {
					for _, s := range trun.Samples {
						if s.Dur > 0 {
							total += uint64(s.Dur)
						} else {
							total += uint64(defaultDur)
						}
					}
				}
			}
		}
	}
	if total > 0 && fallbackScale > 0 {
		return float64(total) / float64(fallbackScale), nil
	}

	return 0, fmt.Errorf("no duration information in segment")
}
