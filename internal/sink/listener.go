// Package sink provides a UDP receiver that counts and classifies incoming
// datagrams, for checking a flood end to end without a real QUIC server.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/malbeclabs/quicflood/config"
	"github.com/malbeclabs/quicflood/internal/metrics"
	"github.com/malbeclabs/quicflood/internal/packet"
)

const (
	defaultBufferSize  = 65535
	defaultReadTimeout = 250 * time.Millisecond
)

// Config holds configuration for the sink listener.
type Config struct {
	Logger           *slog.Logger
	ListenAddr       string // host:port, e.g. "127.0.0.1:4433"; a multicast host joins the group
	InterfaceName    string // optional, used for the multicast join
	BufferSize       int    // per-datagram read buffer, default 65535
	SocketBufferSize int    // SO_RCVBUF, default 8MB
	ReadTimeout      time.Duration
}

// DefaultConfig returns a Config with the CLI defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger:           slog.Default(),
		ListenAddr:       config.DefaultSinkListenAddr,
		BufferSize:       defaultBufferSize,
		SocketBufferSize: config.DefaultSocketBufferSize,
		ReadTimeout:      defaultReadTimeout,
	}
}

// Stats is a point-in-time copy of the sink counters.
type Stats struct {
	Packets uint64
	Bytes   uint64
	Shapes  map[packet.Shape]ShapeStats
	First   time.Time // zero until the first datagram
	Last    time.Time
}

// PPS is the average receive rate between the first and last datagram.
func (s Stats) PPS() float64 {
	window := s.Last.Sub(s.First).Seconds()
	if window <= 0 {
		return 0
	}
	return float64(s.Packets) / window
}

type ShapeStats struct {
	Packets uint64
	Bytes   uint64
}

// Listener receives datagrams on one UDP socket and tallies them per shape.
type Listener struct {
	log              *slog.Logger
	addr             netip.AddrPort
	interfaceName    string
	bufferSize       int
	socketBufferSize int
	readTimeout      time.Duration

	mu   sync.Mutex
	conn *net.UDPConn

	packets atomic.Uint64
	bytes   atomic.Uint64
	shapes  [packet.ShapeNull + 1]struct{ packets, bytes atomic.Uint64 }
	first   atomic.Int64
	last    atomic.Int64
}

// NewListener validates cfg. No socket is opened until Listen or Run.
func NewListener(cfg *Config) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	addr, err := netip.ParseAddrPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
	}
	if addr.Addr().IsMulticast() && !addr.Addr().Unmap().Is4() {
		return nil, fmt.Errorf("multicast listen address %s must be IPv4", addr.Addr())
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	socketBufferSize := cfg.SocketBufferSize
	if socketBufferSize <= 0 {
		socketBufferSize = config.DefaultSocketBufferSize
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	return &Listener{
		log:              cfg.Logger,
		addr:             netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
		interfaceName:    cfg.InterfaceName,
		bufferSize:       bufferSize,
		socketBufferSize: socketBufferSize,
		readTimeout:      readTimeout,
	}, nil
}

// Listen binds the socket. Calling it before Run lets the caller learn the bound
// address when the configured port is 0.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	conn, err := l.createConnection()
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *Listener) LocalAddr() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads datagrams until ctx is cancelled, binding first if Listen was not called.
// The socket is closed on return.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return fmt.Errorf("failed to create sink connection: %w", err)
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		_ = conn.Close()
		l.conn = nil
		l.mu.Unlock()
	}()

	l.log.Info("sink listening", "addr", conn.LocalAddr().String(), "buffer_size", l.bufferSize)

	buf := make([]byte, l.bufferSize)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("sink shutting down", "packets", l.packets.Load())
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			l.log.Error("failed to set read deadline", "error", err)
			continue
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Error("error reading UDP datagram", "error", err)
			continue
		}
		l.record(buf[:n], time.Now())
	}
}

func (l *Listener) record(b []byte, at time.Time) {
	shape := packet.Classify(b)
	size := uint64(len(b))

	l.packets.Add(1)
	l.bytes.Add(size)
	l.shapes[shape].packets.Add(1)
	l.shapes[shape].bytes.Add(size)
	l.first.CompareAndSwap(0, at.UnixNano())
	l.last.Store(at.UnixNano())

	metrics.SinkPacketsReceivedTotal.WithLabelValues(shape.String()).Inc()
	metrics.SinkBytesReceivedTotal.Add(float64(size))
}

// Snapshot copies the counters. It is safe to call while Run is active.
func (l *Listener) Snapshot() Stats {
	s := Stats{
		Packets: l.packets.Load(),
		Bytes:   l.bytes.Load(),
		Shapes:  make(map[packet.Shape]ShapeStats, len(l.shapes)),
	}
	for _, shape := range packet.Shapes() {
		s.Shapes[shape] = ShapeStats{
			Packets: l.shapes[shape].packets.Load(),
			Bytes:   l.shapes[shape].bytes.Load(),
		}
	}
	if first := l.first.Load(); first != 0 {
		s.First = time.Unix(0, first)
		s.Last = time.Unix(0, l.last.Load())
	}
	return s
}

func (l *Listener) createConnection() (*net.UDPConn, error) {
	network := "udp4"
	if !l.addr.Addr().Is4() {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(l.addr))
	if err != nil {
		return nil, fmt.Errorf("failed to listen UDP: %w", err)
	}

	if l.addr.Addr().IsMulticast() {
		if err := l.joinGroup(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if err := conn.SetReadBuffer(l.socketBufferSize); err != nil {
		l.log.Warn("failed to set socket receive buffer size",
			"requested", l.socketBufferSize,
			"error", err,
		)
	} else if actual, err := effectiveReadBuffer(conn); err == nil {
		l.log.Debug("socket receive buffer configured", "requested", l.socketBufferSize, "actual", actual)
	}

	return conn, nil
}

func (l *Listener) joinGroup(conn *net.UDPConn) error {
	p := ipv4.NewPacketConn(conn)

	var ifi *net.Interface
	if l.interfaceName != "" {
		var err error
		ifi, err = net.InterfaceByName(l.interfaceName)
		if err != nil {
			return fmt.Errorf("failed to get interface %s: %w", l.interfaceName, err)
		}
	}

	group := &net.UDPAddr{IP: net.IP(l.addr.Addr().AsSlice())}
	if err := p.JoinGroup(ifi, group); err != nil {
		return fmt.Errorf("failed to join multicast group %s: %w", group.IP, err)
	}
	l.log.Debug("joined multicast group", "group", group.IP.String(), "interface", l.interfaceName)
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
