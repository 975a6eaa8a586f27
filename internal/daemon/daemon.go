package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/steerd/internal/config"
	"github.com/harun/steerd/internal/logger"
	"github.com/harun/steerd/internal/metrics"
	"github.com/harun/steerd/internal/observability"
	"github.com/harun/steerd/internal/tracing"
	"github.com/harun/steerd/pkg/control"
	"github.com/harun/steerd/pkg/frame"
	"github.com/harun/steerd/pkg/gateway"
	"github.com/harun/steerd/pkg/oracle"
	"github.com/harun/steerd/pkg/recorder"
)

const modelLoadTimeout = 60 * time.Second

// Daemon represents the steerd driving service
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	// Core modules
	metrics      *metrics.Metrics
	preprocessor *frame.Preprocessor
	oracle       *oracle.Deadline
	governors    *control.GovernorSet
	recorder     *recorder.Recorder
	controller   *control.Controller
	loop         *control.Loop

	// Services
	sessions      *gateway.SessionRegistry
	gatewayServer *gateway.Server
	watcher       *config.Watcher
	audit         *observability.AuditLogger

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status reports whether the daemon is serving
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
	Sessions  int
	Loop      control.LoopStats
}

var openOracle = oracle.Open

// New loads the model, prepares the recording folder and wires the control
// loop to the gateway. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) abort() {
	d.cancel()
	if d.recorder != nil {
		_ = d.recorder.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	log := d.logger.GetZerolog()

	d.metrics = metrics.NewMetrics()

	pre, err := frame.NewPreprocessor(frame.PreprocessConfig{
		CropTop:    cfg.Preprocess.CropTop,
		CropBottom: cfg.Preprocess.CropBottom,
		Width:      cfg.Preprocess.Width,
		Height:     cfg.Preprocess.Height,
		ColorSpace: frame.ColorSpace(cfg.Preprocess.ColorSpace),
	})
	if err != nil {
		return fmt.Errorf("failed to create preprocessor: %w", err)
	}
	d.preprocessor = pre

	h, w, c := pre.Shape()
	loadCtx, cancel := context.WithTimeout(d.ctx, modelLoadTimeout)
	model, err := openOracle(loadCtx, oracle.OpenConfig{
		Path:       cfg.Model.Path,
		Name:       cfg.Model.Name,
		S3Region:   cfg.Model.S3Region,
		S3Endpoint: cfg.Model.S3Endpoint,
		Height:     h,
		Width:      w,
		Channels:   c,
	})
	cancel()
	if err != nil {
		return err
	}
	d.oracle = oracle.NewDeadline(model, cfg.Model.Timeout())
	log.Info().
		Str("model", cfg.Model.Path).
		Dur("timeout", cfg.Model.Timeout()).
		Msg("Steering model loaded")

	governors, err := control.NewGovernorSet(control.GovernorScope(cfg.Control.GovernorScope), cfg.Control.MaxSpeed, cfg.Control.MinSpeed)
	if err != nil {
		return fmt.Errorf("failed to create speed governor: %w", err)
	}
	d.governors = governors

	if cfg.Recording.Enabled {
		if err := recorder.Prepare(cfg.Recording.Directory); err != nil {
			return err
		}
		rec, err := recorder.New(recorder.Config{
			Directory: cfg.Recording.Directory,
			Journal:   cfg.Recording.Journal,
			Quality:   cfg.Recording.Quality,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		d.recorder = rec
		log.Info().Str("directory", cfg.Recording.Directory).Msg("Recording run")
	} else {
		log.Info().Msg("Not recording this run")
	}

	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config
	log := d.logger.GetZerolog()

	// The broadcaster shares the server's registry so the controller can be
	// built before the server that hosts it.
	d.sessions = gateway.NewSessionRegistry()
	broadcaster := gateway.NewEventBroadcaster(d.sessions, log)

	ctrlCfg := control.ControllerConfig{
		Preprocessor: d.preprocessor,
		Oracle:       d.oracle,
		Governors:    d.governors,
		Emitter:      broadcaster,
		Metrics:      d.metrics,
		Logger:       log,
	}
	if d.recorder != nil {
		ctrlCfg.Sink = d.recorder
	}
	controller, err := control.NewController(ctrlCfg)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	d.controller = controller

	d.loop = control.NewLoop(controller, control.LoopConfig{
		Metrics: d.metrics,
		Logger:  log,
	})

	server, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		PingInterval: cfg.Server.PingInterval(),
		PingTimeout:  cfg.Server.PingTimeout(),
		Handler:      d.loop,
		Sessions:     d.sessions,
		Metrics:      d.metrics.Handler(),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server

	return nil
}

// SetConfigPath enables hot reload from path once the daemon starts
func (d *Daemon) SetConfigPath(path string) {
	d.mu.Lock()
	d.configPath = path
	d.mu.Unlock()
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	configPath := d.configPath
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting steerd")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.markStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Str("addr", d.Addr()).Msg("Gateway server started")

	audit, err := observability.OpenAuditLog(AuditFile(d.config.DataDir))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open audit log")
	}
	d.audit = audit
	d.audit.RecordLifecycle(tracing.WithTraceID(d.ctx, traceID), "start", map[string]interface{}{
		"addr":      d.Addr(),
		"pid":       os.Getpid(),
		"model":     d.config.Model.Path,
		"recording": d.recordingDir(),
		"max_speed": d.config.Control.MaxSpeed,
		"min_speed": d.config.Control.MinSpeed,
		"scope":     string(d.governors.Scope()),
	})

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			w, err := config.NewWatcher(configPath, log, d.applyConfig)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to watch config file, hot reload disabled")
			} else {
				d.watcher = w
				log.Info().Str("path", configPath).Msg("Watching config for changes")
			}
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	log.Info().
		Float64("max_speed", d.config.Control.MaxSpeed).
		Float64("min_speed", d.config.Control.MinSpeed).
		Str("governor_scope", string(d.governors.Scope())).
		Msg("Daemon started, waiting for simulator")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// applyConfig applies the hot-reloadable subset of a new config
func (d *Daemon) applyConfig(cfg *config.Config) {
	log := d.logger.GetZerolog()

	err := d.governors.SetLimits(cfg.Control.MaxSpeed, cfg.Control.MinSpeed)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected new speed limits")
	}
	d.oracle.SetTimeout(cfg.Model.Timeout())
	d.audit.RecordConfig(tracing.WithTraceID(context.Background(), tracing.NewTraceID()), "reload", err, map[string]interface{}{
		"max_speed":  cfg.Control.MaxSpeed,
		"min_speed":  cfg.Control.MinSpeed,
		"timeout_ms": cfg.Model.TimeoutMs,
	})

	if cfg.Model.Path != d.config.Model.Path || cfg.Server.Port != d.config.Server.Port ||
		cfg.Recording != d.config.Recording || cfg.Preprocess != d.config.Preprocess {
		log.Warn().Msg("Model, server, preprocessing and recording changes take effect after restart")
	}

	log.Info().
		Float64("max_speed", cfg.Control.MaxSpeed).
		Float64("min_speed", cfg.Control.MinSpeed).
		Dur("inference_timeout", cfg.Model.Timeout()).
		Msg("Applied configuration")
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Stopping steerd")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	// Closing sessions first lets workers see their contexts cancelled
	if err := d.gatewayServer.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop gateway server")
	}

	d.loop.Close()
	log.Info().Msg("Control loop stopped")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close recorder")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.audit.RecordLifecycle(tracing.WithTraceID(context.Background(), traceID), "stop", map[string]interface{}{
		"uptime_ms": time.Since(d.startTime).Milliseconds(),
	})
	if err := d.audit.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit log")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	log.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.Addr()
		status.Sessions = d.sessions.Count()
		status.Loop = d.loop.Stats()
	}

	return status
}

// Addr returns the bound listen address, empty before Start
func (d *Daemon) Addr() string {
	if d.gatewayServer == nil {
		return ""
	}
	addr := d.gatewayServer.Addr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		return net.JoinHostPort("localhost", fmt.Sprint(tcp.Port))
	}
	return addr.String()
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-d.ctx.Done():
		return
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetLoop returns the control loop
func (d *Daemon) GetLoop() *control.Loop {
	return d.loop
}

// GetGovernors returns the governor set
func (d *Daemon) GetGovernors() *control.GovernorSet {
	return d.governors
}

// GetMetrics returns the metrics registry wrapper
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}

// GetRecorder returns the frame recorder, nil when not recording
func (d *Daemon) GetRecorder() *recorder.Recorder {
	return d.recorder
}

// PIDFile returns the PID file path for dataDir
func PIDFile(dataDir string) string {
	return filepath.Join(dataDir, "steerd.pid")
}

// AuditFile returns the audit log location under dataDir
func AuditFile(dataDir string) string {
	return filepath.Join(dataDir, "audit.log")
}

func (d *Daemon) recordingDir() string {
	if d.recorder == nil {
		return ""
	}
	return d.recorder.Dir()
}

func (d *Daemon) component(name string) zerolog.Logger {
	return d.logger.Component(name)
}
