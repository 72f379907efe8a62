package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Segment is one media segment of an HLS media playlist.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// Playlist is the subset of an HLS playlist the service needs.
type Playlist struct {
	MediaSequence int64
	Segments      []Segment
	// Variants lists the URIs of a master playlist's renditions.
	Variants []string
	Ended    bool
}

// IsMaster reports whether the playlist references renditions rather than
// segments.
func (p Playlist) IsMaster() bool {
	return len(p.Variants) > 0 && len(p.Segments) == 0
}

// Duration is the sum of all segment durations in seconds.
func (p Playlist) Duration() float64 {
	total := 0.0
	for _, seg := range p.Segments {
		total += seg.Duration
	}
	return total
}

// ParsePlaylist reads an HLS playlist. Unknown tags are ignored.
func ParsePlaylist(data []byte) (Playlist, error) {
	var (
		p            Playlist
		pendingInf   = -1.0
		pendingVar   bool
		sawHeader    bool
		nextSequence int64
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "#EXTM3U":
			sawHeader = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return Playlist{}, fmt.Errorf("parse media sequence: %w", err)
			}
			p.MediaSequence = n
			nextSequence = n
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(value, ','); i >= 0 {
				value = value[:i]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return Playlist{}, fmt.Errorf("parse segment duration %q: %w", value, err)
			}
			pendingInf = d
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pendingVar = true
		case line == "#EXT-X-ENDLIST":
			p.Ended = true
		case strings.HasPrefix(line, "#"):
		default:
			switch {
			case pendingVar:
				p.Variants = append(p.Variants, line)
				pendingVar = false
			case pendingInf >= 0:
				p.Segments = append(p.Segments, Segment{Sequence: nextSequence, Duration: pendingInf, Path: line})
				nextSequence++
				pendingInf = -1
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Playlist{}, fmt.Errorf("read playlist: %w", err)
	}
	if !sawHeader {
		return Playlist{}, fmt.Errorf("read playlist: missing #EXTM3U header")
	}
	return p, nil
}
