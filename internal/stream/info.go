package stream

import (
	"fmt"

	"github.com/yourusername/rtsp2web/internal/process"
)

// Stream status values exposed by the info projections.
const (
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// Info is the read-only projection of one registry entry.
type Info struct {
	ID     string        `json:"id"`
	Source string        `json:"source"`
	Status string        `json:"status"`
	JSMpeg BroadcastInfo `json:"jsmpeg"`
	HLS    HLSInfo       `json:"hls"`
}

// BroadcastInfo describes the binary delivery mode.
type BroadcastInfo struct {
	Port      int    `json:"port"`
	Endpoint  string `json:"endpoint"`
	IsRunning bool   `json:"isRunning"`
	State     string `json:"state"`
	Clients   int    `json:"clients"`
}

// HLSInfo describes the segmented delivery mode.
type HLSInfo struct {
	Playlist  string `json:"playlist"`
	IsRunning bool   `json:"isRunning"`
	State     string `json:"state"`
}

// project builds the info projection. Caller holds m.mu for reading.
func (m *Manager) project(e *entry) Info {
	broadcastState := e.broadcast.Supervisor().State()
	segmentState := e.segments.Supervisor().State()

	jsmpegRunning := e.broadcast.Running() && broadcastState == process.StateRunning
	hlsRunning := e.segments.Running() && segmentState == process.StateRunning

	info := Info{
		ID:     e.def.ID,
		Source: maskURL(e.def.SourceURL),
		Status: status(broadcastState, segmentState, jsmpegRunning, hlsRunning),
		JSMpeg: BroadcastInfo{
			Port:      e.broadcast.Port(),
			Endpoint:  fmt.Sprintf("ws://localhost:%d/", e.broadcast.Port()),
			IsRunning: jsmpegRunning,
			State:     broadcastState.String(),
			Clients:   e.broadcast.ClientCount(),
		},
		HLS: HLSInfo{
			Playlist:  e.segments.PlaylistPath(),
			IsRunning: hlsRunning,
			State:     segmentState.String(),
		},
	}
	return info
}

// status folds the two delivery modes into one tri-state (plus failed)
// stream status. It uses the same per-mode liveness as the IsRunning
// flags, so transcoders that have exited are never reported running.
func status(broadcastState, segmentState process.State, broadcastUp, segmentsUp bool) string {
	if broadcastState == process.StateFailed || segmentState == process.StateFailed {
		return StatusFailed
	}

	switch {
	case broadcastUp && segmentsUp:
		return StatusRunning
	case !broadcastUp && !segmentsUp:
		return StatusStopped
	default:
		return StatusDegraded
	}
}
