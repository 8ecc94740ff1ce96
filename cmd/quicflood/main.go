package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/quicflood/config"
	"github.com/malbeclabs/quicflood/internal/flood"
	"github.com/malbeclabs/quicflood/internal/metrics"
	"github.com/malbeclabs/quicflood/internal/packet"
	"github.com/malbeclabs/quicflood/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type floodOptions struct {
	configPath  string
	host        string
	port        int
	mode        string
	rate        int
	maxRate     int
	duration    int
	packets     int
	packetType  string
	output      string
	dcidLen     int
	garbageSize int
	seed        uint64
	metricsAddr string
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &floodOptions{}

	cmd := &cobra.Command{
		Use:   "quicflood",
		Short: "Send paced floods of QUIC-shaped UDP datagrams at a target",
		Long: `quicflood sends synthetic UDP datagrams shaped like QUIC Initial, QUIC short
header, random or all-zero packets at a single host:port, paced by one of the
constant, burst, ramp or chaos policies, and reports what it sent.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath != "" {
				rf, err := config.LoadRunFile(opts.configPath)
				if err != nil {
					return err
				}
				if err := rf.ApplyTo(cmd.Flags()); err != nil {
					return err
				}
			}
			return runFlood(cmd, opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "set debug logging level")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on, e.g. 127.0.0.1:9090 (disabled when empty)")

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML run file; flags given on the command line take precedence")
	flags.StringVar(&opts.host, "host", config.DefaultHost, "target host")
	flags.IntVar(&opts.port, "port", config.DefaultPort, "target UDP port")
	flags.StringVar(&opts.mode, "mode", config.DefaultMode, fmt.Sprintf("pacing mode %v", flood.ModeNames()))
	flags.IntVar(&opts.rate, "rate", config.DefaultRate, "packets per second in constant mode, 0 for unpaced")
	flags.IntVar(&opts.maxRate, "max-rate", config.DefaultMaxRate, "packets per second reached at the end of ramp mode")
	flags.IntVar(&opts.duration, "duration", config.DefaultDurationSeconds, "run duration in seconds (constant, ramp, chaos)")
	flags.IntVar(&opts.packets, "packets", config.DefaultPackets, "number of packets in burst mode")
	flags.StringVar(&opts.packetType, "packet-type", config.DefaultPacketType, fmt.Sprintf("packet shape %v, ignored in chaos mode", packet.ShapeNames()))
	flags.StringVar(&opts.output, "output", "", "write the run result as JSON to this path")
	flags.IntVar(&opts.dcidLen, "dcid-len", config.DefaultConnIDLen, "destination connection ID length of initial packets (0-20)")
	flags.IntVar(&opts.garbageSize, "garbage-size", 0, "exact size of garbage packets, 0 for random")
	flags.Uint64Var(&opts.seed, "seed", 0, "seed for packet contents and chaos decisions, 0 for random")

	cmd.AddCommand(newSinkCmd(opts))

	return cmd
}

func (o *floodOptions) floodConfig() (*flood.Config, error) {
	mode, err := flood.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}
	shape, err := packet.ParseShape(o.packetType)
	if err != nil {
		return nil, err
	}
	cfg := &flood.Config{
		Mode:     mode,
		Host:     o.host,
		Port:     o.port,
		Rate:     o.rate,
		MaxRate:  o.maxRate,
		Duration: time.Duration(o.duration) * time.Second,
		Packets:  o.packets,
		Shape:    shape,
		Generator: packet.GeneratorConfig{
			Seed:        o.seed,
			ConnIDLen:   o.dcidLen,
			GarbageSize: o.garbageSize,
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runFlood(cmd *cobra.Command, opts *floodOptions) error {
	log := newLogger(opts.verbose)

	cfg, err := opts.floodConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := startMetricsServer(ctx, log, opts.metricsAddr); err != nil {
		return err
	}

	target, err := flood.Dial(ctx, cfg.Host, cfg.Port, &flood.DialConfig{Logger: log})
	if err != nil {
		log.Error("Failed to open socket", "error", err)
		return err
	}
	defer target.Close()

	gen, err := packet.NewGenerator(&cfg.Generator)
	if err != nil {
		return err
	}
	sched, err := flood.NewScheduler(&flood.SchedulerConfig{
		Logger:    log.With("component", "flood"),
		Conn:      target.Conn,
		Dest:      target.Addr,
		Generator: gen,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report.PrintPlan(out, cfg)

	res, err := sched.Run(ctx, cfg)
	if err != nil {
		return err
	}

	var saved string
	if opts.output != "" {
		if err := flood.WriteResultFile(opts.output, res); err != nil {
			log.Error("Failed to save result", "error", err)
			return err
		}
		saved = opts.output
	}
	report.PrintResult(out, res, saved)
	return nil
}

// startMetricsServer serves /metrics on addr until ctx is done. An empty addr
// disables it.
func startMetricsServer(ctx context.Context, log *slog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
