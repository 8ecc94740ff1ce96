package flood

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/quicflood/internal/metrics"
	"github.com/malbeclabs/quicflood/internal/packet"
)

var errSendFailed = errors.New("send failed")

// recordingWriter records when each datagram was accepted. Every failEvery-th
// call fails when failEvery is positive.
type recordingWriter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	failEvery int
	record    bool

	calls int
	sent  int
	times []time.Time
	sizes []int
}

func (w *recordingWriter) WriteTo(b []byte, _ net.Addr) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failEvery > 0 && w.calls%w.failEvery == 0 {
		return 0, errSendFailed
	}
	w.sent++
	if w.record {
		w.times = append(w.times, w.clock.Now())
		w.sizes = append(w.sizes, len(b))
	}
	return len(b), nil
}

var testDest = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}

func newTestScheduler(t *testing.T, clock clockwork.Clock, w PacketWriter) *Scheduler {
	t.Helper()
	gen, err := packet.NewGenerator(&packet.GeneratorConfig{Seed: 1, ConnIDLen: 8})
	require.NoError(t, err)
	s, err := NewScheduler(&SchedulerConfig{
		Clock:     clock,
		Conn:      w,
		Dest:      testDest,
		Generator: gen,
	})
	require.NoError(t, err)
	return s
}

// runWithFakeClock advances clk by step whenever something is waiting on it, until fn returns.
func runWithFakeClock(t *testing.T, clk *clockwork.FakeClock, step time.Duration, fn func() *Result) *Result {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		for {
			if err := clk.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clk.Advance(step)
		}
	}()
	return fn()
}

func TestFlood_SchedulerConfig_Validate(t *testing.T) {
	t.Parallel()

	gen, err := packet.NewGenerator(nil)
	require.NoError(t, err)
	w := &recordingWriter{}

	tests := []struct {
		name    string
		cfg     SchedulerConfig
		wantErr string
	}{
		{name: "missing conn", cfg: SchedulerConfig{Dest: testDest, Generator: gen}, wantErr: "conn is required"},
		{name: "missing dest", cfg: SchedulerConfig{Conn: w, Generator: gen}, wantErr: "destination is required"},
		{name: "missing generator", cfg: SchedulerConfig{Conn: w, Dest: testDest}, wantErr: "generator is required"},
		{name: "ok minimal", cfg: SchedulerConfig{Conn: w, Dest: testDest, Generator: gen}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, tt.cfg.Clock)
				require.NotNil(t, tt.cfg.Logger)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestFlood_Constant_FakeClock_ExactCount(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	w := &recordingWriter{clock: clk, record: true}
	s := newTestScheduler(t, clk, w)
	start := clk.Now()

	res := runWithFakeClock(t, clk, time.Millisecond, func() *Result {
		return s.Constant(t.Context(), 100, time.Second, packet.ShapeInitial)
	})

	require.Equal(t, int64(100), res.Sent)
	require.Equal(t, 1.0, res.Elapsed)
	require.InDelta(t, 100.0, res.PPS, 0.001)
	require.Equal(t, "constant", res.Mode)
	require.Equal(t, "initial", res.PacketType)

	var total int64
	for i, ts := range w.times {
		require.Equal(t, start.Add(time.Duration(i)*10*time.Millisecond), ts, "send %d off schedule", i)
		total += int64(w.sizes[i])
	}
	require.Equal(t, total, res.Bytes)
	require.InDelta(t, float64(total)*8/1e6, res.Mbps, 1e-9)
}

func TestFlood_Constant_RealClock_ApproximatesRateTimesDuration(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)

	res := s.Constant(t.Context(), 200, 500*time.Millisecond, packet.ShapeShort)

	assert.InDelta(t, 100, res.Sent, 10)
	assert.GreaterOrEqual(t, res.Elapsed, 0.5)
	assert.Less(t, res.Elapsed, 0.65)
	assert.Zero(t, res.Failed)
}

func TestFlood_Constant_ZeroRateIsUnpaced(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)

	res := s.Constant(t.Context(), 0, 50*time.Millisecond, packet.ShapeNull)

	require.Greater(t, res.Sent, int64(100))
	require.GreaterOrEqual(t, res.Elapsed, 0.05)
	require.Equal(t, int64(w.sent), res.Sent)
}

func TestFlood_Constant_StopsOnCancel(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	res := s.Constant(ctx, 10, time.Minute, packet.ShapeInitial)

	require.Less(t, time.Since(started), 5*time.Second)
	require.GreaterOrEqual(t, res.Sent, int64(1))
	require.Less(t, res.Elapsed, 5.0)
}

func TestFlood_Burst_SendsExactlyN(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)

	res := s.Burst(t.Context(), 5000, packet.ShapeGarbage)

	require.Equal(t, int64(5000), res.Sent)
	require.Equal(t, 5000, w.calls)
	require.Equal(t, "burst", res.Mode)
	require.Equal(t, "garbage", res.PacketType)
	require.GreaterOrEqual(t, res.Bytes, int64(5000*packet.MinGarbageSize))
	require.LessOrEqual(t, res.Bytes, int64(5000*packet.MaxGarbageSize))
}

func TestFlood_Burst_ZeroPacketsHasZeroRates(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := newTestScheduler(t, clk, &recordingWriter{clock: clk})

	res := s.Burst(t.Context(), 0, packet.ShapeInitial)

	require.Zero(t, res.Sent)
	require.Zero(t, res.Elapsed)
	require.Zero(t, res.PPS)
	require.Zero(t, res.Mbps)
}

func TestFlood_Burst_FailedSendsAreNotCounted(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{failEvery: 4}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)

	res := s.Burst(t.Context(), 100, packet.ShapeNull)

	require.Equal(t, 100, w.calls, "failures must not abort or retry")
	require.Equal(t, int64(75), res.Sent)
	require.Equal(t, int64(25), res.Failed)
}

func TestFlood_Ramp_IncreasingFrequencyBelowMaxRate(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	w := &recordingWriter{clock: clk, record: true}
	s := newTestScheduler(t, clk, w)
	start := clk.Now()
	const maxRate = 200
	duration := 5 * time.Second

	res := runWithFakeClock(t, clk, time.Millisecond, func() *Result {
		return s.Ramp(t.Context(), maxRate, duration, packet.ShapeInitial)
	})

	require.Equal(t, "ramp", res.Mode)
	require.Greater(t, res.Sent, int64(10))
	require.Less(t, res.PPS, float64(maxRate))
	require.InDelta(t, duration.Seconds(), res.Elapsed, 0.001)

	require.Equal(t, start, w.times[0])
	for i := 2; i < len(w.times); i++ {
		prev := w.times[i-1].Sub(w.times[i-2])
		cur := w.times[i].Sub(w.times[i-1])
		require.LessOrEqualf(t, cur, prev, "gap %d grew from %v to %v", i, prev, cur)
	}
	for _, ts := range w.times {
		require.True(t, ts.Before(start.Add(duration)))
	}
}

func TestFlood_RampInterval(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, rampInterval(1000, 0, 10*time.Second))
	require.Equal(t, 10*time.Millisecond, rampInterval(1000, time.Second, 10*time.Second))
	require.Equal(t, time.Millisecond, rampInterval(1000, 10*time.Second, 10*time.Second))
	require.Equal(t, time.Second, rampInterval(1000, time.Second, 0))
	require.Equal(t, time.Second, rampInterval(0, 5*time.Second, 10*time.Second))
}

func TestFlood_Chaos_NeverSendsPastDeadline(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	w := &recordingWriter{clock: clk, record: true}
	s := newTestScheduler(t, clk, w)
	start := clk.Now()
	duration := 2 * time.Second

	res := runWithFakeClock(t, clk, time.Millisecond, func() *Result {
		return s.Chaos(t.Context(), duration)
	})

	require.Equal(t, "chaos", res.Mode)
	require.Greater(t, res.Sent, int64(0))
	require.Equal(t, int64(len(w.times)), res.Sent)
	require.LessOrEqual(t, res.Elapsed, duration.Seconds()+chaosMaxPause.Seconds())
	for _, ts := range w.times {
		require.True(t, ts.Before(start.Add(duration)))
	}
}

func TestFlood_Chaos_RealClockRespectsDuration(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, clockwork.NewRealClock(), &recordingWriter{})

	res := s.Chaos(t.Context(), 300*time.Millisecond)

	require.Greater(t, res.Sent, int64(0))
	require.GreaterOrEqual(t, res.Elapsed, 0.3)
	require.Less(t, res.Elapsed, 0.3+chaosMaxPause.Seconds()+0.2)
}

func TestFlood_Run_Dispatch(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, clockwork.NewRealClock(), &recordingWriter{})

	cfg := DefaultConfig()
	cfg.Mode = ModeBurst
	cfg.Packets = 10
	cfg.Shape = packet.ShapeShort
	res, err := s.Run(t.Context(), cfg)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Sent)
	require.Equal(t, "burst", res.Mode)
	require.Equal(t, "short", res.PacketType)

	cfg = DefaultConfig()
	cfg.Mode = ModeChaos
	cfg.Duration = 20 * time.Millisecond
	res, err = s.Run(t.Context(), cfg)
	require.NoError(t, err)
	require.Equal(t, "chaos", res.Mode)
	require.Equal(t, "initial", res.PacketType, "chaos records the configured packet type")

	cfg.Mode = Mode("storm")
	_, err = s.Run(t.Context(), cfg)
	require.ErrorIs(t, err, ErrUnknownMode)
}

// Not parallel: reads process-wide counters.
func TestFlood_Burst_UpdatesMetrics(t *testing.T) {
	sent := metrics.PacketsSentTotal.WithLabelValues("burst", "short")
	bytes := metrics.BytesSentTotal.WithLabelValues("burst", "short")
	errs := metrics.SendErrorsTotal.WithLabelValues("burst")

	sentBefore := testutil.ToFloat64(sent)
	bytesBefore := testutil.ToFloat64(bytes)
	errsBefore := testutil.ToFloat64(errs)

	w := &recordingWriter{failEvery: 5}
	s := newTestScheduler(t, clockwork.NewRealClock(), w)
	res := s.Burst(t.Context(), 50, packet.ShapeShort)

	require.Equal(t, sentBefore+40, testutil.ToFloat64(sent))
	require.Equal(t, bytesBefore+float64(res.Bytes), testutil.ToFloat64(bytes))
	require.Equal(t, errsBefore+10, testutil.ToFloat64(errs))
}
