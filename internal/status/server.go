package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/esn-edge-sensor/internal/device"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	healthCheckTimeout      = 3 * time.Second
)

// DeviceStatus reports the device's current status. *device.Core
// satisfies it.
type DeviceStatus interface {
	Status() device.Status
}

// Checker is a dependency health check. *mqtt.Client and *influxdb.Client
// satisfy it.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Connectivity reports on the broker connection.
type Connectivity interface {
	Checker
	IsConnected() bool
}

// Deps holds the server's dependencies.
type Deps struct {
	Device DeviceStatus
	MQTT   Connectivity

	// Checks are extra dependencies reported by name, such as "influxdb"
	// when telemetry is enabled. Any failure makes the node unhealthy.
	Checks map[string]Checker

	Logger *logging.Logger

	// Metrics serves /metrics. Nil uses promhttp.Handler().
	Metrics http.Handler
}

// Server is the health and metrics HTTP server.
type Server struct {
	device  DeviceStatus
	mqtt    Connectivity
	checks  map[string]Checker
	metrics http.Handler
	logger  *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Device == nil {
		return nil, errors.New("status: device is required")
	}
	if deps.MQTT == nil {
		return nil, errors.New("status: mqtt is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	return &Server{
		device:  deps.Device,
		mqtt:    deps.MQTT,
		checks:  deps.Checks,
		metrics: metrics,
		logger:  logger.With("component", "status"),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	return r
}

// Start binds addr and serves in the background. Bind errors are returned
// here rather than from the serving goroutine.
func (s *Server) Start(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("status: server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	srv, done := s.server, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	<-done
	if err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
