// Package health exposes the detector's calibration state through the
// standard gRPC health checking protocol, so supervisors can tell a
// running-but-uncalibrated detector from a working one.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/monitoring"
)

// Config holds configuration for the health endpoint.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50061").
	ListenAddr string

	// Service is the health service name reported for the detector.
	Service string

	// MinConfidence is the alignment confidence at or above which the
	// detector reports SERVING.
	MinConfidence float64
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "localhost:50061",
		Service:       "gridwatch.Detector",
		MinConfidence: 0.5,
	}
}

// Reporter tracks calibration health from processed frames and serves it
// over gRPC.
type Reporter struct {
	config Config
	health *health.Server

	server   *grpc.Server
	listener net.Listener

	mu             sync.Mutex
	status         healthpb.HealthCheckResponse_ServingStatus
	lastConfidence float64
	observed       atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewReporter creates a reporter that starts out NOT_SERVING.
func NewReporter(cfg Config) *Reporter {
	r := &Reporter{
		config: cfg,
		health: health.NewServer(),
		status: healthpb.HealthCheckResponse_NOT_SERVING,
	}
	r.health.SetServingStatus(cfg.Service, r.status)
	return r
}

// Observe updates the reported status from a processed frame: SERVING when
// the frame carries an alignment with confidence of at least
// MinConfidence, NOT_SERVING otherwise.
func (r *Reporter) Observe(frame *grid.ProcessedFrame) {
	if frame == nil {
		return
	}
	r.observed.Add(1)

	conf := 0.0
	if frame.Alignment != nil {
		conf = frame.Alignment.Confidence
	}
	next := healthpb.HealthCheckResponse_NOT_SERVING
	if frame.Alignment != nil && conf >= r.config.MinConfidence {
		next = healthpb.HealthCheckResponse_SERVING
	}

	r.mu.Lock()
	changed := next != r.status
	r.status = next
	r.lastConfidence = conf
	r.mu.Unlock()

	if changed {
		r.health.SetServingStatus(r.config.Service, next)
		monitoring.Opsf("health: %s -> %s at frame %d (confidence %.3f)",
			r.config.Service, next, frame.FrameNumber, conf)
	}
}

// Status returns the current serving status and the last observed
// alignment confidence.
func (r *Reporter) Status() (healthpb.HealthCheckResponse_ServingStatus, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.lastConfidence
}

// Observed returns the number of frames observed.
func (r *Reporter) Observed() uint64 { return r.observed.Load() }

// Check answers a health check in-process.
func (r *Reporter) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Start binds ListenAddr and serves the health service in the background.
func (r *Reporter) Start() error {
	if r.running.Load() {
		return fmt.Errorf("health reporter already running")
	}

	lis, err := net.Listen("tcp", r.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	r.listener = lis
	r.server = grpc.NewServer()
	healthpb.RegisterHealthServer(r.server, r.health)
	r.running.Store(true)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		monitoring.Logf("health: gRPC server listening on %s", lis.Addr())
		if err := r.server.Serve(lis); err != nil && r.running.Load() {
			monitoring.Opsf("health: gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (r *Reporter) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (r *Reporter) Stop() {
	if !r.running.Load() {
		return
	}
	r.running.Store(false)
	r.health.Shutdown()
	if r.server != nil {
		r.server.GracefulStop()
	}
	r.wg.Wait()
	monitoring.Logf("health: gRPC server stopped")
}
