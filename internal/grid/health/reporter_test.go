package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/gridwatch/internal/grid"
)

func frameWith(conf float64) *grid.ProcessedFrame {
	a := grid.IdentityAlignment()
	a.Confidence = conf
	return &grid.ProcessedFrame{FrameNumber: 1, Alignment: &a}
}

func TestReporter_Observe(t *testing.T) {
	t.Parallel()
	r := NewReporter(DefaultConfig())
	ctx := context.Background()

	st, err := r.Check(ctx, DefaultConfig().Service)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	r.Observe(frameWith(0.9))
	st, err = r.Check(ctx, DefaultConfig().Service)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
	_, conf := r.Status()
	assert.Equal(t, 0.9, conf)

	r.Observe(frameWith(0.2))
	st, _ = r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	r.Observe(&grid.ProcessedFrame{FrameNumber: 3})
	st, conf = r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
	assert.Equal(t, 0.0, conf)

	r.Observe(nil)
	assert.Equal(t, uint64(3), r.Observed())
}

func TestReporter_ThresholdIsInclusive(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.75
	r := NewReporter(cfg)
	r.Observe(frameWith(0.75))
	st, _ := r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

func TestReporter_ServesOverGRPC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	r := NewReporter(cfg)
	require.NoError(t, r.Start())
	defer r.Stop()
	assert.Error(t, r.Start(), "second start fails")

	r.Observe(frameWith(1))

	conn, err := grpc.NewClient(r.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: cfg.Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestReporter_StopWithoutStart(t *testing.T) {
	t.Parallel()
	r := NewReporter(DefaultConfig())
	r.Stop()
	assert.Empty(t, r.Addr())
}
