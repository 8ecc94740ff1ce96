package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/quicflood/config"
	"github.com/malbeclabs/quicflood/internal/report"
	"github.com/malbeclabs/quicflood/internal/sink"
)

type sinkOptions struct {
	listen           string
	interval         time.Duration
	socketBufferSize int
	interfaceName    string
}

func newSinkCmd(root *floodOptions) *cobra.Command {
	opts := &sinkOptions{}

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Receive datagrams on a local UDP port and count them by packet type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.interval <= 0 {
				return fmt.Errorf("interval must be greater than 0, got %s", opts.interval)
			}
			log := newLogger(root.verbose)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := startMetricsServer(ctx, log, root.metricsAddr); err != nil {
				return err
			}

			l, err := sink.NewListener(&sink.Config{
				Logger:           log.With("component", "sink"),
				ListenAddr:       opts.listen,
				InterfaceName:    opts.interfaceName,
				SocketBufferSize: opts.socketBufferSize,
			})
			if err != nil {
				return err
			}
			if err := l.Listen(); err != nil {
				return err
			}
			return runSink(ctx, cmd, l, clockwork.NewRealClock(), opts.interval)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", config.DefaultSinkListenAddr, "UDP address to receive on; a multicast address joins the group")
	cmd.Flags().DurationVar(&opts.interval, "interval", config.DefaultSinkReportInterval, "how often to print counters while packets arrive")
	cmd.Flags().IntVar(&opts.socketBufferSize, "socket-buffer-size", config.DefaultSocketBufferSize, "socket receive buffer size in bytes")
	cmd.Flags().StringVar(&opts.interfaceName, "interface", "", "interface for the multicast join")

	return cmd
}

// runSink prints the counters every interval while they change, and once more
// when ctx is done.
func runSink(ctx context.Context, cmd *cobra.Command, l *sink.Listener, clock clockwork.Clock, interval time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	out := cmd.OutOrStdout()
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var printed uint64
	for {
		select {
		case err := <-done:
			report.PrintSinkStats(out, l.Snapshot())
			return err
		case <-ticker.Chan():
			s := l.Snapshot()
			if s.Packets == printed {
				continue
			}
			printed = s.Packets
			report.PrintSinkStats(out, s)
		}
	}
}
