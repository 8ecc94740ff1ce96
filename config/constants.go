package config

import "time"

const (
	// Flood defaults.
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 4433
	DefaultMode            = "constant"
	DefaultRate            = 10000
	DefaultMaxRate         = 100000
	DefaultDurationSeconds = 30
	DefaultPackets         = 50000
	DefaultPacketType      = "initial"
	DefaultConnIDLen       = 8

	// Sink defaults.
	DefaultSinkListenAddr     = "127.0.0.1:4433"
	DefaultSinkReportInterval = 1 * time.Second
	DefaultSocketBufferSize   = 8 * 1024 * 1024
)
