package flood

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

// PacketWriter is the part of net.PacketConn the scheduler needs.
type PacketWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// DialConfig configures the socket opened by Dial.
type DialConfig struct {
	Logger         *slog.Logger // optional
	SendBufferSize int          // SO_SNDBUF; 0 keeps the OS default
}

// Target is an unconnected UDP socket plus the destination every datagram goes to.
// Each send names the destination; the socket is never connected.
type Target struct {
	Conn *net.UDPConn
	Addr *net.UDPAddr

	once sync.Once
}

// Dial resolves host:port and opens an unconnected UDP socket of the matching
// address family. The caller must Close the Target.
func Dial(ctx context.Context, host string, port int, cfg *DialConfig) (*Target, error) {
	if cfg == nil {
		cfg = &DialConfig{}
	}

	ip, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(port)))

	network := "udp4"
	if !ip.Is4() {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s socket: %w", network, err)
	}

	if cfg.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(cfg.SendBufferSize); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("failed to set socket send buffer size", "requested", cfg.SendBufferSize, "error", err)
		}
	}
	if cfg.Logger != nil {
		cfg.Logger.Debug("socket opened", "local", conn.LocalAddr().String(), "target", addr.String())
	}

	return &Target{Conn: conn, Addr: addr}, nil
}

// Close releases the socket. It is safe to call more than once.
func (t *Target) Close() error {
	var err error
	t.once.Do(func() {
		if t.Conn != nil {
			err = t.Conn.Close()
		}
	})
	return err
}

func resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("no IP addresses found for %s", host)
	}
	// Prefer IPv4, like the rest of the tooling.
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			return ip.Unmap(), nil
		}
	}
	return ips[0], nil
}
