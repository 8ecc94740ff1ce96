package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/malbeclabs/quicflood/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("host", config.DefaultHost, "")
	fs.Int("port", config.DefaultPort, "")
	fs.String("mode", config.DefaultMode, "")
	fs.Int("rate", config.DefaultRate, "")
	fs.Int("max-rate", config.DefaultMaxRate, "")
	fs.Int("duration", config.DefaultDurationSeconds, "")
	fs.Int("packets", config.DefaultPackets, "")
	fs.String("packet-type", config.DefaultPacketType, "")
	fs.String("output", "", "")
	fs.Int("dcid-len", config.DefaultConnIDLen, "")
	fs.Int("garbage-size", 0, "")
	fs.Uint64("seed", 0, "")
	fs.String("metrics-addr", "", "")
	return fs
}

func TestConfig_RunFile_ApplyTo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 10.0.0.7
port: 9443
mode: ramp
max_rate: 2500
duration: 12
packet_type: short
seed: 42
`), 0o600))

	rf, err := config.LoadRunFile(path)
	require.NoError(t, err)

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--port", "7000"}))
	require.NoError(t, rf.ApplyTo(fs))

	host, _ := fs.GetString("host")
	port, _ := fs.GetInt("port")
	mode, _ := fs.GetString("mode")
	maxRate, _ := fs.GetInt("max-rate")
	duration, _ := fs.GetInt("duration")
	packetType, _ := fs.GetString("packet-type")
	seed, _ := fs.GetUint64("seed")
	rate, _ := fs.GetInt("rate")

	require.Equal(t, "10.0.0.7", host)
	require.Equal(t, 7000, port, "command line flag must win over the file")
	require.Equal(t, "ramp", mode)
	require.Equal(t, 2500, maxRate)
	require.Equal(t, 12, duration)
	require.Equal(t, "short", packetType)
	require.Equal(t, uint64(42), seed)
	require.Equal(t, config.DefaultRate, rate, "unset file fields keep defaults")
}

func TestConfig_RunFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.ParseRunFile([]byte("hostname: nope\n"))
	require.ErrorIs(t, err, config.ErrInvalidRunFile)

	_, err = config.ParseRunFile([]byte("port: [1, 2]\n"))
	require.ErrorIs(t, err, config.ErrInvalidRunFile)

	_, err = config.LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	rf, err := config.ParseRunFile(nil)
	require.NoError(t, err)
	require.NoError(t, rf.ApplyTo(newFlagSet()))

	port := 1
	err = (&config.RunFile{Port: &port}).ApplyTo(pflag.NewFlagSet("empty", pflag.ContinueOnError))
	require.ErrorIs(t, err, config.ErrInvalidRunFile)
}
