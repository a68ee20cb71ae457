package process

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a supervisor lifecycle event.
type EventType int

const (
	// EventStarted is posted after the subprocess has been launched.
	EventStarted EventType = iota
	// EventData carries a chunk of subprocess stdout, in production order.
	EventData
	// EventExited is posted after the subprocess has exited. Code is the
	// exit code, or -1 when the process could not be launched or was
	// killed by a signal.
	EventExited
)

// Event is a typed lifecycle message posted to the supervisor's owner.
type Event struct {
	Type   EventType
	Data   []byte
	Code   int
	Signal string
	Err    error
}

// State describes the supervisor's view of its subprocess.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

const (
	defaultRestartDelay = 5 * time.Second
	maxRestartDelay     = 60 * time.Second
	defaultMaxFailures  = 10
	defaultEventBuffer  = 512
	readChunkSize       = 4096

	// uptime after which the consecutive-failure counter resets
	stableUptime = 30 * time.Second
)

// dimensionRe matches the first WxH token ffmpeg prints while probing
// the input, e.g. "1920x1080".
var dimensionRe = regexp.MustCompile(`\b(\d{2,5})x(\d{2,5})\b`)

// Config configures a Supervisor.
type Config struct {
	// Name tags log lines, e.g. "cam1/broadcast".
	Name string
	// Binary is the transcoder executable path.
	Binary string
	// Args is the full argument list passed to the binary.
	Args []string
	// StreamOutput relays stdout chunks as EventData. Disable for
	// transcoders that write to the filesystem instead.
	StreamOutput bool
	// RestartDelay is the base delay before an automatic restart.
	// Defaults to 5s; doubles per consecutive failure up to 60s.
	RestartDelay time.Duration
	// MaxFailures is the consecutive-failure threshold after which the
	// supervisor gives up and enters StateFailed.
	MaxFailures int
	Logger      *zap.Logger
}

// Supervisor owns exactly one transcoder subprocess: it launches it,
// relays its output, and restarts it after abnormal exits for as long
// as the stream is desired running.
type Supervisor struct {
	name         string
	binary       string
	args         []string
	streamOutput bool
	restartDelay time.Duration
	maxFailures  int
	logger       *zap.Logger

	events chan Event

	mu           sync.Mutex
	cmd          *exec.Cmd
	state        State
	desired      bool
	failures     int
	startedAt    time.Time
	restartTimer *time.Timer

	// sniffed from stderr, 0 until known
	width  int
	height int
}

// NewSupervisor creates a supervisor. The subprocess is not launched
// until Start is called.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}

	return &Supervisor{
		name:         cfg.Name,
		binary:       cfg.Binary,
		args:         cfg.Args,
		streamOutput: cfg.StreamOutput,
		restartDelay: cfg.RestartDelay,
		maxFailures:  cfg.MaxFailures,
		logger:       cfg.Logger.With(zap.String("supervisor", cfg.Name)),
		events:       make(chan Event, defaultEventBuffer),
		state:        StateStopped,
	}
}

// Events returns the channel on which lifecycle events are posted.
// The owner must consume it while the supervisor is running.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start marks the stream desired-running and launches the subprocess.
// Calling Start while the subprocess is already running is a no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desired && (s.state == StateRunning || s.state == StateStarting || s.state == StateRestarting) {
		s.logger.Debug("start ignored, already running")
		return nil
	}

	s.desired = true
	s.failures = 0
	s.state = StateStarting

	s.launchLocked()
	return nil
}

// Stop clears the desired-running flag, cancels any pending restart and
// signals the subprocess to terminate. Termination is signaled, not
// awaited. Stop is idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.desired && s.state == StateStopped {
		return
	}

	s.desired = false

	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}

	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("terminate signal failed", zap.Error(err))
		}
	}

	s.state = StateStopped
	s.logger.Info("Supervisor stopped")
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the subprocess is currently live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Dimensions returns the source video dimensions sniffed from the
// transcoder's stderr, or ok=false when they are not yet known.
func (s *Supervisor) Dimensions() (width, height int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height, s.width > 0 && s.height > 0
}

// launchLocked starts the subprocess. Caller holds s.mu. Launch
// failures are reported as an EventExited with code -1 and retried
// under the normal backoff policy.
func (s *Supervisor) launchLocked() {
	cmd := exec.Command(s.binary, s.args...)
	// stdin stays nil: the child gets the null device

	var stdout, stderr io.ReadCloser
	var err error
	if s.streamOutput {
		stdout, err = cmd.StdoutPipe()
	}
	if err == nil {
		stderr, err = cmd.StderrPipe()
	}
	if err == nil {
		err = cmd.Start()
	}

	if err != nil {
		s.logger.Error("Failed to launch transcoder",
			zap.String("binary", s.binary),
			zap.Error(err),
		)
		s.emit(Event{Type: EventExited, Code: -1, Err: err})
		s.scheduleRestartLocked(-1)
		return
	}

	s.onLaunched(cmd, stdout, stderr)
}

// onLaunched records the live process and starts the pump goroutines.
// Caller holds s.mu.
func (s *Supervisor) onLaunched(cmd *exec.Cmd, stdout, stderr io.ReadCloser) {
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()

	s.logger.Info("Transcoder started",
		zap.Int("pid", cmd.Process.Pid),
	)
	s.emit(Event{Type: EventStarted})

	if stdout != nil {
		go s.pumpStdout(stdout)
	}
	go s.scanStderr(stderr)
	go s.wait(cmd)
}

// pumpStdout relays raw transcoded bytes as EventData, preserving
// production order.
func (s *Supervisor) pumpStdout(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.emit(Event{Type: EventData, Data: chunk})
		}
		if err != nil {
			return
		}
	}
}

// scanStderr watches transcoder diagnostics. The first WxH token seen
// sets the source dimensions (only if not already known). Steady-state
// progress lines are suppressed from the log.
func (s *Supervisor) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		line := scanner.Text()

		s.sniffDimensions(line)

		if isProgressLine(line) {
			continue
		}
		s.logger.Debug("transcoder", zap.String("line", line))
	}
}

// sniffDimensions extracts the first WxH token from a stderr line.
func (s *Supervisor) sniffDimensions(line string) {
	s.mu.Lock()
	known := s.width > 0 && s.height > 0
	s.mu.Unlock()
	if known {
		return
	}

	m := dimensionRe.FindStringSubmatch(line)
	if m == nil {
		return
	}

	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || w == 0 || h == 0 {
		return
	}

	s.mu.Lock()
	if s.width == 0 && s.height == 0 {
		s.width = w
		s.height = h
	}
	s.mu.Unlock()

	s.logger.Info("Source dimensions detected",
		zap.Int("width", w),
		zap.Int("height", h),
	)
}

// isProgressLine reports whether a stderr line is ffmpeg steady-state
// progress output rather than a diagnostic.
func isProgressLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "frame=") ||
		strings.HasPrefix(trimmed, "size=") ||
		strings.Contains(trimmed, "speed=")
}

// wait blocks until the subprocess exits, posts the exit event and
// schedules a restart when appropriate.
func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	code := 0
	signal := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				signal = ws.Signal().String()
			}
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	if s.cmd != cmd {
		// a newer process replaced this one; nothing to do
		s.mu.Unlock()
		return
	}
	s.cmd = nil

	s.logger.Info("Transcoder exited",
		zap.Int("code", code),
		zap.String("signal", signal),
		zap.Bool("desired_running", s.desired),
	)

	s.emit(Event{Type: EventExited, Code: code, Signal: signal, Err: err})

	if !s.desired {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}

	if code == 0 {
		// clean exit while desired running: no restart
		s.state = StateStopped
		s.mu.Unlock()
		return
	}

	if time.Since(s.startedAt) > stableUptime {
		s.failures = 0
	}
	s.scheduleRestartLocked(code)
	s.mu.Unlock()
}

// scheduleRestartLocked arms the restart timer with capped exponential
// backoff, or transitions to StateFailed once the consecutive-failure
// threshold is reached. Caller holds s.mu.
func (s *Supervisor) scheduleRestartLocked(code int) {
	s.failures++

	if s.failures >= s.maxFailures {
		s.state = StateFailed
		s.logger.Error("Transcoder failed permanently, giving up",
			zap.Int("consecutive_failures", s.failures),
			zap.Int("last_code", code),
		)
		return
	}

	delay := s.restartDelay << (s.failures - 1)
	if delay > maxRestartDelay {
		delay = maxRestartDelay
	}

	s.state = StateRestarting
	s.logger.Warn("Scheduling transcoder restart",
		zap.Duration("delay", delay),
		zap.Int("consecutive_failures", s.failures),
	)

	s.restartTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.desired || s.state != StateRestarting {
			return
		}
		s.launchLocked()
	})
}

// emit posts an event without ever blocking the pumps: when the owner
// has stopped consuming or the queue is full, events are dropped.
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event queue full, dropping event",
			zap.Int("type", int(ev.Type)),
		)
	}
}
