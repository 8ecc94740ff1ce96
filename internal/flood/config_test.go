package flood_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/quicflood/internal/flood"
	"github.com/malbeclabs/quicflood/internal/packet"
)

func TestFlood_ParseMode(t *testing.T) {
	t.Parallel()

	for _, name := range flood.ModeNames() {
		m, err := flood.ParseMode(name)
		require.NoError(t, err)
		require.Equal(t, name, m.String())
	}

	_, err := flood.ParseMode("storm")
	require.ErrorIs(t, err, flood.ErrUnknownMode)
}

func TestFlood_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*flood.Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "unknown mode", mutate: func(c *flood.Config) { c.Mode = "storm" }, wantErr: "unknown mode"},
		{name: "empty host", mutate: func(c *flood.Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "port zero", mutate: func(c *flood.Config) { c.Port = 0 }, wantErr: "port must be between"},
		{name: "port too large", mutate: func(c *flood.Config) { c.Port = 70000 }, wantErr: "port must be between"},
		{name: "unknown shape", mutate: func(c *flood.Config) { c.Shape = packet.Shape(9) }, wantErr: "unknown packet type"},
		{name: "conn id too long", mutate: func(c *flood.Config) { c.Generator.ConnIDLen = 21 }, wantErr: "packet generator"},
		{name: "negative rate", mutate: func(c *flood.Config) { c.Rate = -1 }, wantErr: "rate must not be negative"},
		{name: "zero rate is unpaced", mutate: func(c *flood.Config) { c.Rate = 0 }},
		{name: "constant zero duration", mutate: func(c *flood.Config) { c.Duration = 0 }, wantErr: "duration must be greater than 0"},
		{name: "burst ignores duration", mutate: func(c *flood.Config) { c.Mode = flood.ModeBurst; c.Duration = 0 }},
		{name: "burst negative packets", mutate: func(c *flood.Config) { c.Mode = flood.ModeBurst; c.Packets = -1 }, wantErr: "packets must not be negative"},
		{name: "burst zero packets", mutate: func(c *flood.Config) { c.Mode = flood.ModeBurst; c.Packets = 0 }},
		{name: "ramp zero max rate", mutate: func(c *flood.Config) { c.Mode = flood.ModeRamp; c.MaxRate = 0 }, wantErr: "max rate must be greater than 0"},
		{name: "chaos zero duration", mutate: func(c *flood.Config) { c.Mode = flood.ModeChaos; c.Duration = 0 }, wantErr: "duration must be greater than 0 for chaos"},
		{name: "chaos ok", mutate: func(c *flood.Config) { c.Mode = flood.ModeChaos; c.Duration = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := flood.DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestFlood_Config_Addr(t *testing.T) {
	t.Parallel()

	cfg := flood.DefaultConfig()
	require.Equal(t, "127.0.0.1:4433", cfg.Addr())

	cfg.Host = "::1"
	cfg.Port = 443
	require.Equal(t, "[::1]:443", cfg.Addr())
}
