package broadcast

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/process"
)

// HeaderMagic is the 4-byte token sent first on every client
// connection, followed by big-endian 16-bit width and height.
const HeaderMagic = "jsmp"

// HeaderSize is the fixed size of the connect header.
const HeaderSize = 8

// Config configures a broadcast Server.
type Config struct {
	StreamID string
	// Port to listen on; 0 picks an ephemeral port (tests).
	Port       int
	Supervisor *process.Supervisor
	// Fallback dimensions for the header until the source has been
	// sniffed.
	DefaultWidth  int
	DefaultHeight int
	// ClientQueue bounds the per-client send queue; chunks are dropped
	// for a client whose queue is full.
	ClientQueue int
	Logger      *zap.Logger
}

// Server fans one stream's transcoded elementary stream out to many
// websocket clients. Membership is owned by a single run loop: client
// registration, removal and data relay all funnel through it.
type Server struct {
	streamID      string
	port          int
	defaultWidth  int
	defaultHeight int
	queueSize     int
	logger        *zap.Logger

	sup      *process.Supervisor
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.Mutex
	running bool

	clientCount  atomic.Int32
	bytesRelayed atomic.Uint64
}

// NewServer creates a broadcast server for one stream. The listener is
// not opened until Start.
func NewServer(cfg Config) *Server {
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = 64
	}
	if cfg.DefaultWidth <= 0 {
		cfg.DefaultWidth = 640
	}
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = 480
	}

	return &Server{
		streamID:      cfg.StreamID,
		port:          cfg.Port,
		defaultWidth:  cfg.DefaultWidth,
		defaultHeight: cfg.DefaultHeight,
		queueSize:     cfg.ClientQueue,
		logger:        cfg.Logger.With(zap.String("stream_id", cfg.StreamID)),
		sup:           cfg.Supervisor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Start opens the websocket listener and starts the owned supervisor.
// Idempotent while running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind broadcast port: %w", err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.httpServer = &http.Server{Handler: mux}

	s.done = make(chan struct{})
	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Broadcast listener error", zap.Error(err))
		}
	}()
	go s.run(s.done)

	if err := s.sup.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	s.logger.Info("Broadcast server started",
		zap.Int("port", s.port),
	)
	return nil
}

// Stop closes the listener, refusing new connections, and stops the
// owned supervisor. Already-open sockets close through the transport's
// own close semantics. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	close(s.done)
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	s.sup.Stop()

	s.logger.Info("Broadcast server stopped")
}

// Port returns the bound port (useful when started with port 0).
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Running reports whether the listener is open.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Supervisor exposes the owned supervisor for status projection.
func (s *Server) Supervisor() *process.Supervisor {
	return s.sup
}

// ClientCount returns the current broadcast group size.
func (s *Server) ClientCount() int {
	return int(s.clientCount.Load())
}

// BytesRelayed returns the cumulative bytes fanned out to clients.
func (s *Server) BytesRelayed() uint64 {
	return s.bytesRelayed.Load()
}

// doneCh snapshots the current generation's done channel.
func (s *Server) doneCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// header builds the fixed 8-byte connect header from the sniffed
// source dimensions, falling back to the configured defaults.
func (s *Server) header() []byte {
	width, height := s.defaultWidth, s.defaultHeight
	if w, h, ok := s.sup.Dimensions(); ok {
		width, height = w, h
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], HeaderMagic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(width))
	binary.BigEndian.PutUint16(buf[6:8], uint16(height))
	return buf
}

// run is the single owner of the broadcast group. It consumes
// supervisor events and membership changes in arrival order.
func (s *Server) run(done chan struct{}) {
	clients := make(map[*client]struct{})

	defer func() {
		for c := range clients {
			c.close()
		}
		s.clientCount.Store(0)
	}()

	for {
		select {
		case <-done:
			return

		case c := <-s.register:
			clients[c] = struct{}{}
			s.clientCount.Store(int32(len(clients)))
			s.logger.Info("Client joined broadcast",
				zap.String("client_id", c.id),
				zap.Int("clients", len(clients)),
			)

		case c := <-s.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				c.close()
				s.clientCount.Store(int32(len(clients)))
				s.logger.Info("Client left broadcast",
					zap.String("client_id", c.id),
					zap.Int("clients", len(clients)),
				)
			}

		case ev := <-s.sup.Events():
			switch ev.Type {
			case process.EventData:
				for c := range clients {
					select {
					case c.send <- ev.Data:
						s.bytesRelayed.Add(uint64(len(ev.Data)))
					default:
						// slow client: drop rather than stall the relay
						s.logger.Debug("Client queue full, dropping chunk",
							zap.String("client_id", c.id),
						)
					}
				}
			case process.EventStarted:
				s.logger.Info("Transcoder running")
			case process.EventExited:
				s.logger.Warn("Transcoder exited",
					zap.Int("code", ev.Code),
					zap.String("signal", ev.Signal),
				)
			}
		}
	}
}

// handleWebSocket upgrades a connection, synchronously sends the
// header as the first binary message and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	// header must be the first bytes on the wire, before any payload
	if err := conn.WriteMessage(websocket.BinaryMessage, s.header()); err != nil {
		s.logger.Error("Failed to send header", zap.Error(err))
		conn.Close()
		return
	}

	c := newClient(s, conn)

	select {
	case s.register <- c:
	case <-s.doneCh():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
