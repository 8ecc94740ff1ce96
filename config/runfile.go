package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidRunFile = errors.New("invalid run file")
)

// RunFile is a YAML description of one flood run. Every field is optional; unset
// fields leave the corresponding flag at its default.
type RunFile struct {
	Host        *string `yaml:"host"`
	Port        *int    `yaml:"port"`
	Mode        *string `yaml:"mode"`
	Rate        *int    `yaml:"rate"`
	MaxRate     *int    `yaml:"max_rate"`
	Duration    *int    `yaml:"duration"`
	Packets     *int    `yaml:"packets"`
	PacketType  *string `yaml:"packet_type"`
	Output      *string `yaml:"output"`
	DCIDLen     *int    `yaml:"dcid_len"`
	GarbageSize *int    `yaml:"garbage_size"`
	Seed        *uint64 `yaml:"seed"`
	MetricsAddr *string `yaml:"metrics_addr"`
}

// LoadRunFile reads and strictly decodes a YAML run file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}
	return ParseRunFile(data)
}

// ParseRunFile decodes a YAML run file, rejecting unknown keys.
func ParseRunFile(data []byte) (*RunFile, error) {
	rf := &RunFile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rf); err != nil {
		if errors.Is(err, io.EOF) {
			return rf, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunFile, err)
	}
	return rf, nil
}

// ApplyTo copies the values set in the file onto fs. Flags already set on the
// command line win over the file.
func (rf *RunFile) ApplyTo(fs *pflag.FlagSet) error {
	values := map[string]string{}
	putString := func(name string, v *string) {
		if v != nil {
			values[name] = *v
		}
	}
	putInt := func(name string, v *int) {
		if v != nil {
			values[name] = strconv.Itoa(*v)
		}
	}

	putString("host", rf.Host)
	putInt("port", rf.Port)
	putString("mode", rf.Mode)
	putInt("rate", rf.Rate)
	putInt("max-rate", rf.MaxRate)
	putInt("duration", rf.Duration)
	putInt("packets", rf.Packets)
	putString("packet-type", rf.PacketType)
	putString("output", rf.Output)
	putInt("dcid-len", rf.DCIDLen)
	putInt("garbage-size", rf.GarbageSize)
	putString("metrics-addr", rf.MetricsAddr)
	if rf.Seed != nil {
		values["seed"] = strconv.FormatUint(*rf.Seed, 10)
	}

	for name, value := range values {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("%w: no flag for %q", ErrInvalidRunFile, name)
		}
		if f.Changed {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRunFile, name, err)
		}
	}
	return nil
}
