package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendrakan/statesync/internal/influx"
	"github.com/opendrakan/statesync/internal/server"
	"github.com/opendrakan/statesync/internal/state"
)

type fakeSource struct {
	mu    sync.Mutex
	stats server.Stats
}

func (f *fakeSource) Stats() server.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) set(s server.Stats) {
	f.mu.Lock()
	f.stats = s
	f.mu.Unlock()
}

type recordingWriter struct {
	mu      sync.Mutex
	buckets []string
	points  []*influxdb2_write.Point
}

func (w *recordingWriter) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buckets = append(w.buckets, bucket)
	w.points = append(w.points, p)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func TestSample_ComputesRates(t *testing.T) {
	src := &fakeSource{}
	s := NewService(Dependencies{Server: src, Logger: slog.New(slog.DiscardHandler), Level: "arena"})

	t0 := time.Unix(100, 0)
	src.set(server.Stats{Ticks: 10, ObjectsSent: 100, EventsSent: 4, Clients: 2, State: state.Stats{CurrentTick: 9}})
	first := s.Sample(t0)
	assert.Zero(t, first.TicksPerSecond, "no rate without a previous sample")
	assert.Equal(t, int64(9), first.Tick)

	src.set(server.Stats{Ticks: 70, ObjectsSent: 400, EventsSent: 10, Clients: 3, LastStepDuration: 1500 * time.Microsecond, State: state.Stats{CurrentTick: 69, OldestTick: 5}})
	second := s.Sample(t0.Add(2 * time.Second))

	assert.InDelta(t, 30.0, second.TicksPerSecond, 1e-9)
	assert.InDelta(t, 150.0, second.ObjectsPerSecond, 1e-9)
	assert.InDelta(t, 3.0, second.EventsPerSecond, 1e-9)
	assert.Equal(t, 3, second.Clients)
	assert.Equal(t, int64(5), second.OldestTick)
	assert.InDelta(t, 1.5, second.LastStepMs, 1e-9)
	assert.Equal(t, "arena", second.Level)
	assert.Equal(t, second, s.LastStatus())
}

func TestPublish_WritesStatusFileAndPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := &recordingWriter{}
	src := &fakeSource{stats: server.Stats{Ticks: 3, Clients: 1}}
	s := NewService(Dependencies{Server: src, Influx: w, Logger: slog.New(slog.DiscardHandler), StatusPath: path})

	s.publish(context.Background(), s.Sample(time.Unix(5, 0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 1, got.Clients)

	require.Equal(t, 1, w.count())
	assert.Equal(t, influx.BucketServer, w.buckets[0])
	assert.Equal(t, "server_status", w.points[0].Name())
}

func TestStartStop(t *testing.T) {
	w := &recordingWriter{}
	s := NewService(Dependencies{
		Server:   &fakeSource{},
		Influx:   w,
		Logger:   slog.New(slog.DiscardHandler),
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "starting twice is a no-op")
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return w.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}
