package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/process"
)

// Config configures a segment Controller.
type Config struct {
	StreamID string
	// OutputDir is the per-stream directory receiving segments and the
	// index file.
	OutputDir  string
	Supervisor *process.Supervisor
	Logger     *zap.Logger
}

// Controller produces a rotating window of media segments plus an
// index file for one stream. All file I/O is delegated to the
// transcoder subprocess; the controller provisions the directory and
// drives the supervisor lifecycle.
type Controller struct {
	streamID  string
	outputDir string
	sup       *process.Supervisor
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewController creates a segment controller. Nothing is started until
// Start.
func NewController(cfg Config) *Controller {
	return &Controller{
		streamID:  cfg.StreamID,
		outputDir: cfg.OutputDir,
		sup:       cfg.Supervisor,
		logger:    cfg.Logger.With(zap.String("stream_id", cfg.StreamID)),
	}
}

// Start provisions the output directory and starts the owned
// supervisor. A directory that cannot be created is a fatal error:
// without it no segment delivery can occur.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create segment directory: %w", err)
	}

	if err := c.sup.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	c.done = make(chan struct{})
	c.running = true
	go c.drainEvents(c.done)

	c.logger.Info("Segment controller started",
		zap.String("output_dir", c.outputDir),
	)
	return nil
}

// Stop stops the owned supervisor. Existing segment files are left on
// disk until the next Start overwrites the rotation. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false

	close(c.done)
	c.sup.Stop()

	c.logger.Info("Segment controller stopped")
}

// Running reports whether the controller has been started.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Supervisor exposes the owned supervisor for status projection.
func (c *Controller) Supervisor() *process.Supervisor {
	return c.sup
}

// PlaylistPath returns the index file path for this stream.
func (c *Controller) PlaylistPath() string {
	return filepath.Join(c.outputDir, c.streamID+".m3u8")
}

// Window reads the live playlist and reports the current segment
// window, or an error when the index does not exist yet.
func (c *Controller) Window() (*WindowInfo, error) {
	return ReadWindow(c.PlaylistPath())
}

// drainEvents consumes supervisor lifecycle events. The segment
// subprocess writes files instead of stdout, so the only interesting
// events are exits.
func (c *Controller) drainEvents(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-c.sup.Events():
			if ev.Type == process.EventExited {
				c.logger.Warn("Segment transcoder exited",
					zap.Int("code", ev.Code),
					zap.String("signal", ev.Signal),
				)
			}
		}
	}
}
