package flood

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/malbeclabs/quicflood/config"
	"github.com/malbeclabs/quicflood/internal/packet"
)

// Mode is a pacing policy.
type Mode string

const (
	ModeConstant Mode = "constant"
	ModeBurst    Mode = "burst"
	ModeRamp     Mode = "ramp"
	ModeChaos    Mode = "chaos"
)

var ErrUnknownMode = errors.New("unknown mode")

func (m Mode) String() string {
	return string(m)
}

// Modes returns every pacing policy.
func Modes() []Mode {
	return []Mode{ModeConstant, ModeBurst, ModeRamp, ModeChaos}
}

// ModeNames returns the CLI names of every pacing policy.
func ModeNames() []string {
	names := make([]string, 0, 4)
	for _, m := range Modes() {
		names = append(names, string(m))
	}
	return names
}

func ParseMode(name string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// Config fully describes one run.
type Config struct {
	Mode     Mode
	Host     string
	Port     int
	Rate     int           // packets/sec, constant mode; 0 sends as fast as possible
	MaxRate  int           // packets/sec reached at the end of a ramp
	Duration time.Duration // constant, ramp and chaos
	Packets  int           // burst
	Shape    packet.Shape  // ignored by chaos

	Generator packet.GeneratorConfig
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:     ModeConstant,
		Host:     config.DefaultHost,
		Port:     config.DefaultPort,
		Rate:     config.DefaultRate,
		MaxRate:  config.DefaultMaxRate,
		Duration: config.DefaultDurationSeconds * time.Second,
		Packets:  config.DefaultPackets,
		Shape:    packet.ShapeInitial,
		Generator: packet.GeneratorConfig{
			ConnIDLen: config.DefaultConnIDLen,
		},
	}
}

func (cfg *Config) Validate() error {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return err
	}
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.Shape > packet.ShapeNull {
		return fmt.Errorf("%w: %d", packet.ErrUnknownShape, cfg.Shape)
	}
	if err := cfg.Generator.Validate(); err != nil {
		return fmt.Errorf("packet generator: %w", err)
	}

	switch cfg.Mode {
	case ModeConstant:
		if cfg.Rate < 0 {
			return fmt.Errorf("rate must not be negative, got %d", cfg.Rate)
		}
	case ModeBurst:
		if cfg.Packets < 0 {
			return fmt.Errorf("packets must not be negative, got %d", cfg.Packets)
		}
	case ModeRamp:
		if cfg.MaxRate <= 0 {
			return fmt.Errorf("max rate must be greater than 0, got %d", cfg.MaxRate)
		}
	}

	if cfg.Mode != ModeBurst && cfg.Duration <= 0 {
		return fmt.Errorf("duration must be greater than 0 for %s mode", cfg.Mode)
	}
	return nil
}

// Addr is the destination in host:port form.
func (cfg *Config) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
