package stream

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/broadcast"
	"github.com/yourusername/rtsp2web/internal/core"
	"github.com/yourusername/rtsp2web/internal/hls"
	"github.com/yourusername/rtsp2web/internal/process"
)

// portRangeSize bounds how many broadcast ports the allocator may hand
// out above the configured base port.
const portRangeSize = 1000

// Definition is the identity and source of one camera stream.
// Immutable after registration; reconfiguration is remove+re-add (or
// Add on the same id, which replaces after stopping the prior entry).
type Definition struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`

	// transcoding parameters; zero values fall back to config defaults
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Bitrate   string `json:"bitrate,omitempty"`
	FrameRate int    `json:"frame_rate,omitempty"`

	// per-delivery-mode configuration
	BroadcastPort  int    `json:"broadcast_port,omitempty"` // 0 allocates
	OutputDir      string `json:"output_dir,omitempty"`
	SegmentSeconds int    `json:"segment_seconds,omitempty"`
	WindowSize     int    `json:"window_size,omitempty"`
}

// entry pairs a definition with its two delivery components.
type entry struct {
	def           Definition
	broadcast     *broadcast.Server
	segments      *hls.Controller
	allocatedPort bool
}

// Manager is the single source of truth mapping stream ids to their
// paired delivery components.
type Manager struct {
	cfg    *core.Config
	logger *zap.Logger
	ports  *portAllocator

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager creates an empty registry.
func NewManager(cfg *core.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		ports:   newPortAllocator(cfg.Broadcast.BasePort, portRangeSize),
		entries: make(map[string]*entry),
	}
}

// Add registers a stream. Registering an id that already exists stops
// the prior entry first, then replaces it (replace-with-prior-stop).
// The new entry is registered stopped; call Start to run it.
func (m *Manager) Add(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("stream id must not be empty")
	}
	if def.SourceURL == "" {
		return fmt.Errorf("source url must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, exists := m.entries[def.ID]; exists {
		m.logger.Info("Replacing existing stream",
			zap.String("stream_id", def.ID),
		)
		m.teardownLocked(def.ID, prior)
	}

	m.applyDefaults(&def)

	allocated := false
	if def.BroadcastPort == 0 {
		port, err := m.ports.acquire()
		if err != nil {
			return fmt.Errorf("failed to allocate broadcast port: %w", err)
		}
		def.BroadcastPort = port
		allocated = true
	} else {
		// explicit in-range ports are reserved so the allocator never
		// hands them out to another stream
		tracked, err := m.ports.reserve(def.BroadcastPort)
		if err != nil {
			return fmt.Errorf("failed to reserve broadcast port: %w", err)
		}
		allocated = tracked
	}

	e := m.buildEntry(def)
	e.allocatedPort = allocated
	m.entries[def.ID] = e

	m.logger.Info("Stream registered",
		zap.String("stream_id", def.ID),
		zap.String("source", maskURL(def.SourceURL)),
		zap.Int("broadcast_port", def.BroadcastPort),
	)
	return nil
}

// Start starts both delivery components for id. It returns false when
// the id is unknown. Starting is transactional: when the segment side
// fails after the broadcast side came up, the broadcast side is rolled
// back and the error returned. The registry lock is held across the
// whole start so a concurrent Remove cannot tear the entry down
// between the existence check and the component starts.
func (m *Manager) Start(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[id]
	if !exists {
		return false, nil
	}

	if err := e.broadcast.Start(); err != nil {
		return true, fmt.Errorf("broadcast start failed: %w", err)
	}

	if err := e.segments.Start(); err != nil {
		e.broadcast.Stop()
		return true, fmt.Errorf("segment start failed: %w", err)
	}

	m.logger.Info("Stream started", zap.String("stream_id", id))
	return true, nil
}

// Stop stops both delivery components for id. Returns false when the
// id is unknown. Idempotent.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[id]
	if !exists {
		return false
	}

	e.segments.Stop()
	e.broadcast.Stop()

	m.logger.Info("Stream stopped", zap.String("stream_id", id))
	return true
}

// Remove stops both components, releases the allocated port exactly
// once and deletes the registry entry. Returns false when the id is
// unknown.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[id]
	if !exists {
		return false
	}

	m.teardownLocked(id, e)

	m.logger.Info("Stream removed", zap.String("stream_id", id))
	return true
}

// StartAll starts every registered stream. A failure of one stream is
// logged and does not abort the remainder.
func (m *Manager) StartAll() {
	for _, id := range m.ids() {
		if _, err := m.Start(id); err != nil {
			m.logger.Error("Failed to start stream",
				zap.String("stream_id", id),
				zap.Error(err),
			)
		}
	}
}

// StopAll stops every registered stream.
func (m *Manager) StopAll() {
	for _, id := range m.ids() {
		m.Stop(id)
	}
}

// Definition returns the registered definition for id.
func (m *Manager) Definition(id string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[id]
	if !exists {
		return Definition{}, false
	}
	return e.def, true
}

// Window returns the live segment window for id.
func (m *Manager) Window(id string) (*hls.WindowInfo, error) {
	m.mu.RLock()
	e, exists := m.entries[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("stream %s not found", id)
	}
	return e.segments.Window()
}

// Info returns the read-only projection for one stream.
func (m *Manager) Info(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[id]
	if !exists {
		return Info{}, false
	}
	return m.project(e), true
}

// AllInfo returns projections for every registered stream, ordered by
// id.
func (m *Manager) AllInfo() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		infos = append(infos, m.project(e))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of registered streams.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Totals aggregates relay statistics across all streams, for metrics.
func (m *Manager) Totals() (clients int, bytesRelayed uint64, running int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		clients += e.broadcast.ClientCount()
		bytesRelayed += e.broadcast.BytesRelayed()
		broadcastUp := e.broadcast.Running() && e.broadcast.Supervisor().State() == process.StateRunning
		segmentsUp := e.segments.Running() && e.segments.Supervisor().State() == process.StateRunning
		if broadcastUp && segmentsUp {
			running++
		}
	}
	return clients, bytesRelayed, running
}

// teardownLocked stops an entry and releases its port. Caller holds
// m.mu for writing.
func (m *Manager) teardownLocked(id string, e *entry) {
	e.segments.Stop()
	e.broadcast.Stop()
	if e.allocatedPort {
		m.ports.release(e.def.BroadcastPort)
		e.allocatedPort = false
	}
	delete(m.entries, id)
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// applyDefaults fills zero-valued definition fields from config.
func (m *Manager) applyDefaults(def *Definition) {
	if def.Bitrate == "" {
		def.Bitrate = m.cfg.Broadcast.VideoBitrate
	}
	if def.FrameRate == 0 {
		def.FrameRate = m.cfg.Broadcast.FrameRate
	}
	if def.OutputDir == "" {
		def.OutputDir = filepath.Join(m.cfg.HLS.OutputRoot, def.ID)
	}
	if def.SegmentSeconds == 0 {
		def.SegmentSeconds = m.cfg.HLS.SegmentSeconds
	}
	if def.WindowSize == 0 {
		def.WindowSize = m.cfg.HLS.WindowSize
	}
}

// buildEntry wires the two supervisors and their owning components for
// one definition.
func (m *Manager) buildEntry(def Definition) *entry {
	broadcastArgs := broadcast.TranscodeArgs(
		def.SourceURL,
		m.cfg.Transcoder.RTSPTransport,
		def.Width, def.Height,
		def.Bitrate, def.FrameRate,
	)
	broadcastSup := process.NewSupervisor(process.Config{
		Name:         def.ID + "/broadcast",
		Binary:       m.cfg.Transcoder.FFmpegPath,
		Args:         broadcastArgs,
		StreamOutput: true,
		Logger:       m.logger,
	})

	segmentArgs := hls.TranscodeArgs(
		def.SourceURL,
		m.cfg.Transcoder.RTSPTransport,
		def.OutputDir, def.ID,
		def.SegmentSeconds, def.WindowSize,
	)
	segmentSup := process.NewSupervisor(process.Config{
		Name:   def.ID + "/hls",
		Binary: m.cfg.Transcoder.FFmpegPath,
		Args:   segmentArgs,
		Logger: m.logger,
	})

	return &entry{
		def: def,
		broadcast: broadcast.NewServer(broadcast.Config{
			StreamID:      def.ID,
			Port:          def.BroadcastPort,
			Supervisor:    broadcastSup,
			DefaultWidth:  m.cfg.Broadcast.DefaultWidth,
			DefaultHeight: m.cfg.Broadcast.DefaultHeight,
			ClientQueue:   m.cfg.Broadcast.ClientQueue,
			Logger:        m.logger,
		}),
		segments: hls.NewController(hls.Config{
			StreamID:   def.ID,
			OutputDir:  def.OutputDir,
			Supervisor: segmentSup,
			Logger:     m.logger,
		}),
	}
}

// maskURL hides credentials embedded in a source URL for logging and
// API projection.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}
