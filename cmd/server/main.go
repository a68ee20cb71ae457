package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/api"
	"github.com/yourusername/rtsp2web/internal/core"
	"github.com/yourusername/rtsp2web/internal/database"
	"github.com/yourusername/rtsp2web/internal/metrics"
	"github.com/yourusername/rtsp2web/internal/probe"
	"github.com/yourusername/rtsp2web/internal/stream"
	"github.com/yourusername/rtsp2web/pkg/logger"
)

const (
	defaultConfigPath = "configs/config.yaml"
	version           = "0.1.0"

	probeTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("RTSP to Web Streaming Server v%s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      config.Logging.Level,
		Output:     config.Logging.Output,
		FilePath:   config.Logging.FilePath,
		MaxSize:    config.Logging.MaxSize,
		MaxBackups: config.Logging.MaxBackups,
		MaxAge:     config.Logging.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting RTSP to Web Streaming Server",
		zap.String("version", version),
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	logger.Info("Server configuration",
		zap.Int("http_port", config.Server.HTTPPort),
		zap.Bool("production", config.Server.Production),
		zap.String("ffmpeg", config.Transcoder.FFmpegPath),
		zap.Int("broadcast_base_port", config.Broadcast.BasePort),
		zap.String("hls_output_root", config.HLS.OutputRoot),
	)

	app, err := initializeApplication(config)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer app.cleanup()

	logger.Info("All components initialized successfully")

	if err := app.loadPersistedStreams(); err != nil {
		logger.Error("Failed to load persisted streams", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("Received shutdown signal",
		zap.String("signal", sig.String()),
	)

	logger.Info("Server stopped gracefully")
}

// Application wires the server components together.
type Application struct {
	config    *core.Config
	db        *database.DB
	repo      *database.StreamRepository
	manager   *stream.Manager
	apiServer *api.Server
}

func initializeApplication(config *core.Config) (*Application, error) {
	app := &Application{config: config}

	db, err := database.Open(config.Database.Path, logger.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.db = db
	app.repo = database.NewStreamRepository(db, logger.Log)
	logger.Info("Database initialized", zap.String("path", config.Database.Path))

	app.manager = stream.NewManager(config, logger.Log)
	logger.Info("Stream manager initialized")

	var m *metrics.Metrics
	if config.Metrics.Enabled {
		m = metrics.New()
		logger.Info("Metrics enabled")
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Port:       config.Server.HTTPPort,
		Production: config.Server.Production,
		Logger:     logger.Log,
		Manager:    app.manager,
		Repository: app.repo,
		Prober:     probe.NewProber(config.Transcoder.RTSPTransport, probeTimeout, logger.Log),
		Metrics:    m,
		HLSRoot:    config.HLS.OutputRoot,
	})

	if err := app.apiServer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start API server: %w", err)
	}
	logger.Info("API server started")

	return app, nil
}

// loadPersistedStreams re-registers every stream definition stored in
// the database. Streams are registered stopped; starting them is an
// explicit operation.
func (app *Application) loadPersistedStreams() error {
	defs, err := app.repo.List()
	if err != nil {
		return err
	}

	logger.Info("Loading persisted streams", zap.Int("count", len(defs)))

	for _, def := range defs {
		if err := app.manager.Add(def); err != nil {
			logger.Error("Failed to register persisted stream",
				zap.String("stream_id", def.ID),
				zap.Error(err),
			)
			continue
		}
		logger.Info("Stream registered",
			zap.String("stream_id", def.ID),
			zap.Int("broadcast_port", def.BroadcastPort),
		)
	}

	return nil
}

func (app *Application) cleanup() {
	logger.Info("Cleaning up application resources")

	if app.manager != nil {
		app.manager.StopAll()
	}

	if app.apiServer != nil {
		app.apiServer.Stop()
	}

	if app.db != nil {
		app.db.Close()
	}

	logger.Info("Cleanup completed")
}
