package hls

import (
	"bufio"
	"fmt"
	"os"

	"github.com/grafov/m3u8"
)

// WindowInfo describes the current segment window as referenced by the
// live playlist.
type WindowInfo struct {
	SegmentCount   int      `json:"segment_count"`
	TargetDuration float64  `json:"target_duration"`
	MediaSequence  uint64   `json:"media_sequence"`
	Segments       []string `json:"segments"`
}

// ReadWindow parses a live HLS media playlist and returns the segment
// window it references.
func ReadWindow(playlistPath string) (*WindowInfo, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("unexpected playlist type: %v", listType)
	}

	media := playlist.(*m3u8.MediaPlaylist)

	info := &WindowInfo{
		TargetDuration: media.TargetDuration,
		MediaSequence:  media.SeqNo,
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		info.SegmentCount++
		info.Segments = append(info.Segments, seg.URI)
	}

	return info, nil
}
