package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/device"
	"github.com/nerrad567/diagbridge/internal/history"
	"github.com/nerrad567/diagbridge/internal/result"
	"github.com/nerrad567/diagbridge/internal/task"
)

// Manager signals.
const (
	SignalFoundDevice = "FoundDevice"
	SignalLostDevice  = "LostDevice"
)

// ErrorPrefix is prepended to the task.Kind of every error reply.
const ErrorPrefix = "com.graylogic.Diagnostics.Error."

const (
	recordTimeout = 5 * time.Second
	pruneInterval = time.Hour
)

// Logger is the structured logger used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives decoded results and device lifecycle events.
// *influxdb.Client implements it.
type Metrics interface {
	WritePing(udn, path string, res result.PingResult)
	WriteNSLookup(udn, path string, res result.NSLookupResult)
	WriteTraceroute(udn, path string, res result.TracerouteResult)
	WriteDeviceEvent(udn, path, event string)
}

// Options configures a Service.
type Options struct {
	// Connector is the local bus. Required.
	Connector bus.Connector

	// Device configures the registry. Its Connector, Interfaces and Logger
	// are filled in by New.
	Device device.Options

	// History journals decoded results. Optional.
	History history.Repository

	// Retention is how long journal entries are kept. Zero keeps them.
	Retention time.Duration

	// Metrics records results in a time-series store. Optional.
	Metrics Metrics

	// Version is returned by GetVersion.
	Version string

	Logger Logger
}

// Service wires the registry, the caller queues and the bus together.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Bus method handlers only enqueue work and never block.
type Service struct {
	conn      bus.Connector
	registry  *device.Registry
	processor *task.Processor
	history   history.Repository
	retention time.Duration
	metrics   Metrics
	version   string
	root      string

	mu            sync.Mutex
	watched       map[string]bool
	managerHandle bus.Handle
	stopPrune     context.CancelFunc

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates the service and its device registry.
func New(opts Options) (*Service, error) {
	if opts.Connector == nil {
		return nil, ErrConnectorRequired
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Service{
		conn:      opts.Connector,
		processor: task.NewProcessor(),
		history:   opts.History,
		retention: opts.Retention,
		metrics:   opts.Metrics,
		version:   opts.Version,
		watched:   make(map[string]bool),
		logger:    logger,
	}

	devOpts := opts.Device
	devOpts.Connector = opts.Connector
	devOpts.Interfaces = s.deviceInterfaces()
	devOpts.Logger = logger

	registry, err := device.NewRegistry(devOpts)
	if err != nil {
		return nil, fmt.Errorf("creating device registry: %w", err)
	}
	registry.SetFoundHandler(s.deviceFound)
	registry.SetLostHandler(s.deviceLost)

	s.registry = registry
	s.root = registry.ObjectRoot()
	return s, nil
}

// SetLogger replaces the logger of the service and its registry.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
	s.registry.SetLogger(logger)
}

func (s *Service) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Registry returns the device registry.
func (s *Service) Registry() *device.Registry {
	return s.registry
}

// Start publishes the manager object and begins discovery. Journal
// pruning runs until ctx is done or Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	s.conn.SetClientLostHandler(s.clientLost)

	h, err := s.conn.PublishObject(s.root, device.InterfaceManager, s.managerMethods())
	if err != nil {
		return fmt.Errorf("publishing manager object: %w", err)
	}

	pruneCtx, stop := context.WithCancel(ctx)
	s.mu.Lock()
	s.managerHandle = h
	s.stopPrune = stop
	s.mu.Unlock()

	if s.history != nil && s.retention > 0 {
		go s.pruneLoop(pruneCtx)
	}

	if err := s.registry.Start(ctx); err != nil {
		stop()
		s.mu.Lock()
		s.managerHandle = 0
		s.mu.Unlock()
		s.conn.Unpublish(h)
		return fmt.Errorf("starting discovery: %w", err)
	}

	s.log().Info("diagnostics service started", "root", s.root, "version", s.version)
	return nil
}

// Shutdown answers every outstanding call with Died, tears down every
// device and unpublishes the manager object.
func (s *Service) Shutdown() {
	s.processor.Shutdown()
	s.registry.Shutdown()

	s.mu.Lock()
	h := s.managerHandle
	s.managerHandle = 0
	stop := s.stopPrune
	s.stopPrune = nil
	clients := make([]string, 0, len(s.watched))
	for name := range s.watched {
		clients = append(clients, name)
	}
	clear(s.watched)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if h != 0 {
		s.conn.Unpublish(h)
	}
	for _, name := range clients {
		s.conn.UnwatchClient(name)
	}
	s.log().Info("diagnostics service stopped")
}

// watch starts tracking a caller on its first call.
func (s *Service) watch(sender string) {
	s.mu.Lock()
	if s.watched[sender] {
		s.mu.Unlock()
		return
	}
	s.watched[sender] = true
	s.mu.Unlock()

	if err := s.conn.WatchClient(sender); err != nil {
		s.mu.Lock()
		delete(s.watched, sender)
		s.mu.Unlock()
		s.log().Warn("failed to watch client", "client", sender, "error", err)
	}
}

// forget drops a caller: its queues are cancelled and it is no longer
// watched.
func (s *Service) forget(sender string) bool {
	s.mu.Lock()
	watched := s.watched[sender]
	delete(s.watched, sender)
	s.mu.Unlock()

	s.processor.RemoveSource(sender)
	return watched
}

func (s *Service) clientLost(name string) {
	s.log().Debug("client left the bus", "client", name)
	s.forget(name)
}

func (s *Service) deviceFound(dev *device.Device) {
	if err := s.conn.Notify(s.root, device.InterfaceManager, SignalFoundDevice, dev.Path()); err != nil {
		s.log().Warn("failed to emit FoundDevice", "path", dev.Path(), "error", err)
	}
	s.recordEvent(dev, history.KindFound)
}

func (s *Service) deviceLost(dev *device.Device) {
	s.processor.RemoveSink(dev.Path())
	if err := s.conn.Notify(s.root, device.InterfaceManager, SignalLostDevice, dev.Path()); err != nil {
		s.log().Warn("failed to emit LostDevice", "path", dev.Path(), "error", err)
	}
	s.recordEvent(dev, history.KindLost)
}

func (s *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		pruneCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		n, err := s.history.Prune(pruneCtx, s.retention)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			s.log().Warn("failed to prune result journal", "error", err)
		case n > 0:
			s.log().Debug("pruned result journal", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
