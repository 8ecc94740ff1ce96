package flood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/malbeclabs/quicflood/internal/metrics"
	"github.com/malbeclabs/quicflood/internal/packet"
)

const (
	// Chaos bursts are uniform in [chaosMinBurst, chaosMaxBurst] packets followed by
	// a pause uniform in [0, chaosMaxPause].
	chaosMinBurst = 1
	chaosMaxBurst = 100
	chaosMaxPause = 100 * time.Millisecond
)

type SchedulerConfig struct {
	Logger    *slog.Logger      // optional
	Clock     clockwork.Clock   // optional, defaults to the real clock
	Conn      PacketWriter      // required
	Dest      net.Addr          // required
	Generator *packet.Generator // required
}

func (cfg *SchedulerConfig) Validate() error {
	if cfg.Conn == nil {
		return errors.New("conn is required")
	}
	if cfg.Dest == nil {
		return errors.New("destination is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Scheduler drives a Generator through one pacing policy at a time over a single
// socket. It is not safe for concurrent use.
//
// Failed sends are neither retried nor logged individually; they only show up as
// Result.Failed and in the send error counter.
type Scheduler struct {
	log   *slog.Logger
	clock clockwork.Clock
	conn  PacketWriter
	dest  net.Addr
	gen   *packet.Generator
}

func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		log:   cfg.Logger,
		clock: cfg.Clock,
		conn:  cfg.Conn,
		dest:  cfg.Dest,
		gen:   cfg.Generator,
	}, nil
}

// Run executes the policy selected by cfg.Mode. Cancelling ctx ends the run early
// with the counters gathered so far.
func (s *Scheduler) Run(ctx context.Context, cfg *Config) (*Result, error) {
	var res *Result
	switch cfg.Mode {
	case ModeConstant:
		res = s.Constant(ctx, cfg.Rate, cfg.Duration, cfg.Shape)
	case ModeBurst:
		res = s.Burst(ctx, cfg.Packets, cfg.Shape)
	case ModeRamp:
		res = s.Ramp(ctx, cfg.MaxRate, cfg.Duration, cfg.Shape)
	case ModeChaos:
		res = s.Chaos(ctx, cfg.Duration)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	res.PacketType = cfg.Shape.String()

	metrics.RunsTotal.WithLabelValues(res.Mode).Inc()
	metrics.RunDuration.WithLabelValues(res.Mode).Observe(res.Elapsed)
	if ctx.Err() != nil {
		s.log.Info("flood: run interrupted", "mode", res.Mode, "sent", res.Sent, "elapsed", res.Elapsed)
	}
	if res.Failed > 0 {
		s.log.Warn("flood: some sends failed", "mode", res.Mode, "failed", res.Failed, "sent", res.Sent)
	}
	return res, nil
}

// Constant sends one packet every 1/rate seconds until duration has elapsed. A
// non-positive rate sends as fast as possible. The n-th send is due at
// start + n/rate, so time lost to the send itself is not accumulated.
func (s *Scheduler) Constant(ctx context.Context, rate int, duration time.Duration, shape packet.Shape) *Result {
	var interval time.Duration
	if rate > 0 {
		interval = time.Duration(float64(time.Second) / float64(rate))
	}
	s.log.Debug("flood: constant", "rate", rate, "interval", interval, "duration", duration, "packetType", shape)

	t := s.newTally(ModeConstant)
	start := s.clock.Now()
	end := start.Add(duration)

	var attempts int64
	for ctx.Err() == nil && s.clock.Now().Before(end) {
		s.send(t, shape)
		attempts++
		if interval > 0 {
			next := start.Add(time.Duration(attempts) * interval)
			if !s.sleepUntil(ctx, earliest(next, end)) {
				break
			}
		}
	}

	res := t.result(s.clock.Since(start))
	res.PacketType = shape.String()
	return res
}

// Burst sends packets back to back with no pacing.
func (s *Scheduler) Burst(ctx context.Context, packets int, shape packet.Shape) *Result {
	s.log.Debug("flood: burst", "packets", packets, "packetType", shape)

	t := s.newTally(ModeBurst)
	start := s.clock.Now()
	for i := 0; i < packets && ctx.Err() == nil; i++ {
		s.send(t, shape)
	}
	res := t.result(s.clock.Since(start))
	res.PacketType = shape.String()
	return res
}

// Ramp raises the target rate linearly from 1 packet/sec to maxRate over duration.
// The rate is recomputed from elapsed time before every send, and each sleep is
// measured from the later of the previous deadline and now.
func (s *Scheduler) Ramp(ctx context.Context, maxRate int, duration time.Duration, shape packet.Shape) *Result {
	s.log.Debug("flood: ramp", "maxRate", maxRate, "duration", duration, "packetType", shape)

	t := s.newTally(ModeRamp)
	start := s.clock.Now()
	end := start.Add(duration)
	next := start

	for ctx.Err() == nil {
		now := s.clock.Now()
		if !now.Before(end) {
			break
		}
		interval := rampInterval(maxRate, now.Sub(start), duration)

		s.send(t, shape)

		if next.Before(now) {
			next = now
		}
		next = next.Add(interval)
		if !s.sleepUntil(ctx, earliest(next, end)) {
			break
		}
	}

	res := t.result(s.clock.Since(start))
	res.PacketType = shape.String()
	return res
}

// rampInterval is 1/rate where rate = max(1, floor(maxRate * elapsed/duration)).
func rampInterval(maxRate int, elapsed, duration time.Duration) time.Duration {
	rate := 1
	if duration > 0 {
		progress := float64(elapsed) / float64(duration)
		rate = max(1, int(float64(maxRate)*progress))
	}
	return time.Duration(float64(time.Second) / float64(rate))
}

// Chaos alternates unpaced bursts of a random shape and random size with random
// pauses until duration has elapsed. The deadline is checked before every packet
// so a burst never runs past it.
func (s *Scheduler) Chaos(ctx context.Context, duration time.Duration) *Result {
	s.log.Debug("flood: chaos", "duration", duration)

	t := s.newTally(ModeChaos)
	start := s.clock.Now()
	end := start.Add(duration)

	for ctx.Err() == nil && s.clock.Now().Before(end) {
		shape := s.gen.RandomShape()
		burst := s.gen.IntRange(chaosMinBurst, chaosMaxBurst)
		for i := 0; i < burst; i++ {
			if ctx.Err() != nil || !s.clock.Now().Before(end) {
				break
			}
			s.send(t, shape)
		}

		pause := time.Duration(s.gen.Float64() * float64(chaosMaxPause))
		if !s.sleepUntil(ctx, earliest(s.clock.Now().Add(pause), end)) {
			break
		}
	}

	return t.result(s.clock.Since(start))
}

// send builds one packet and hands it to the socket, recording the outcome.
func (s *Scheduler) send(t *tally, shape packet.Shape) {
	if int(shape) >= len(t.shapes) {
		shape = packet.ShapeInitial
	}
	b := s.gen.Build(shape)
	if _, err := s.conn.WriteTo(b, s.dest); err != nil {
		t.failed++
		t.errors.Inc()
		return
	}
	t.sent++
	t.bytes += int64(len(b))
	c := &t.shapes[shape]
	c.packets.Inc()
	c.bytes.Add(float64(len(b)))
}

// sleepUntil blocks until the clock reaches deadline. It returns false if ctx
// ended first.
func (s *Scheduler) sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := deadline.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

type shapeCounters struct {
	packets prometheus.Counter
	bytes   prometheus.Counter
}

// tally accumulates one run. Prometheus children are resolved once per run to
// keep label lookups off the send path.
type tally struct {
	mode   Mode
	sent   int64
	bytes  int64
	failed int64

	errors prometheus.Counter
	shapes [packet.ShapeNull + 1]shapeCounters
}

func (s *Scheduler) newTally(mode Mode) *tally {
	t := &tally{
		mode:   mode,
		errors: metrics.SendErrorsTotal.WithLabelValues(string(mode)),
	}
	for _, shape := range packet.Shapes() {
		t.shapes[shape] = shapeCounters{
			packets: metrics.PacketsSentTotal.WithLabelValues(string(mode), shape.String()),
			bytes:   metrics.BytesSentTotal.WithLabelValues(string(mode), shape.String()),
		}
	}
	return t
}

func (t *tally) result(elapsed time.Duration) *Result {
	r := NewResult(t.sent, t.bytes, elapsed)
	r.Mode = string(t.mode)
	r.Failed = t.failed
	return r
}
