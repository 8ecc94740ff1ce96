// Package packet builds the datagrams a flood sends: QUIC-looking long and short
// header packets, random garbage, and zero-filled runts.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/quic-go/quic-go"
)

// Shape selects the template a Generator fills.
type Shape uint8

const (
	ShapeInitial Shape = iota
	ShapeGarbage
	ShapeShort
	ShapeNull
)

var ErrUnknownShape = errors.New("unknown packet type")

func (s Shape) String() string {
	switch s {
	case ShapeInitial:
		return "initial"
	case ShapeGarbage:
		return "garbage"
	case ShapeShort:
		return "short"
	case ShapeNull:
		return "null"
	default:
		return "unknown"
	}
}

// Shapes returns every shape in declaration order.
func Shapes() []Shape {
	return []Shape{ShapeInitial, ShapeGarbage, ShapeShort, ShapeNull}
}

// ShapeNames returns the CLI names of every shape.
func ShapeNames() []string {
	shapes := Shapes()
	names := make([]string, 0, len(shapes))
	for _, s := range shapes {
		names = append(names, s.String())
	}
	return names
}

// ParseShape maps a CLI name back to its Shape.
func ParseShape(name string) (Shape, error) {
	for _, s := range Shapes() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownShape, name)
}

// Size bounds per shape, inclusive.
const (
	MinInitialPayload = 100
	MaxInitialPayload = 1100
	MinGarbageSize    = 20
	MaxGarbageSize    = 1200
	MinShortPayload   = 50
	MaxShortPayload   = 800
	MinNullSize       = 1
	MaxNullSize       = 100

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Seed        uint64 // 0 picks a random seed
	ConnIDLen   int    // destination connection ID length for ShapeInitial
	GarbageSize int    // exact ShapeGarbage size, 0 for random in [MinGarbageSize, MaxGarbageSize]
}

// DefaultGeneratorConfig returns the settings the CLI uses when nothing is overridden.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		ConnIDLen: DefaultConnIDLen,
	}
}

func (cfg *GeneratorConfig) Validate() error {
	if cfg.ConnIDLen < 0 || cfg.ConnIDLen > MaxConnIDLen {
		return fmt.Errorf("connection ID length must be between 0 and %d, got %d", MaxConnIDLen, cfg.ConnIDLen)
	}
	if cfg.GarbageSize < 0 || cfg.GarbageSize > MaxDatagramSize {
		return fmt.Errorf("garbage size must be between 0 and %d, got %d", MaxDatagramSize, cfg.GarbageSize)
	}
	return nil
}

// Generator produces packets of a given Shape. It is not safe for concurrent use.
type Generator struct {
	src         *rand.ChaCha8
	rng         *rand.Rand
	connIDLen   int
	garbageSize int
}

// NewGenerator returns a Generator seeded from cfg, or from defaults when cfg is nil.
func NewGenerator(cfg *GeneratorConfig) (*Generator, error) {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	var key [32]byte
	for i := 0; i < len(key); i += 8 {
		binary.LittleEndian.PutUint64(key[i:], seed+uint64(i))
	}
	src := rand.NewChaCha8(key)

	return &Generator{
		src:         src,
		rng:         rand.New(src),
		connIDLen:   cfg.ConnIDLen,
		garbageSize: cfg.GarbageSize,
	}, nil
}

// Build returns one freshly allocated packet of the given shape. Unknown shapes
// fall back to ShapeInitial.
func (g *Generator) Build(s Shape) []byte {
	switch s {
	case ShapeGarbage:
		return g.Garbage(g.garbageSize)
	case ShapeShort:
		return g.Short()
	case ShapeNull:
		return g.Null()
	default:
		return g.Initial()
	}
}

// RandomShape picks a shape uniformly.
func (g *Generator) RandomShape() Shape {
	shapes := Shapes()
	return shapes[g.rng.IntN(len(shapes))]
}

// IntRange returns a uniform integer in [lo, hi].
func (g *Generator) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.IntN(hi-lo+1)
}

// Float64 returns a uniform float in [0, 1).
func (g *Generator) Float64() float64 {
	return g.rng.Float64()
}

// Initial builds a long header packet that looks like a QUIC v1 Initial:
//
//	flags(1) version(4) dcid_len(1) dcid scid_len(1) scid(8) token_len(1)=0 length(2) payload
func (g *Generator) Initial() []byte {
	payloadLen := g.IntRange(MinInitialPayload, MaxInitialPayload)
	b := make([]byte, LongHeaderLen(g.connIDLen)+payloadLen)

	b[0] = LongHeaderInitial
	binary.BigEndian.PutUint32(b[VersionOffset:], uint32(quic.Version1))
	off := DestConnIDLenOffset
	b[off] = byte(g.connIDLen)
	off++
	g.fill(b[off : off+g.connIDLen])
	off += g.connIDLen
	b[off] = SourceConnIDLen
	off++
	g.fill(b[off : off+SourceConnIDLen])
	off += SourceConnIDLen
	b[off] = 0 // token length
	off++
	binary.BigEndian.PutUint16(b[off:], uint16(payloadLen))
	off += 2
	g.fill(b[off:])
	return b
}

// Garbage returns size random bytes, or a random length in [MinGarbageSize, MaxGarbageSize]
// when size is not positive.
func (g *Generator) Garbage(size int) []byte {
	if size <= 0 {
		size = g.IntRange(MinGarbageSize, MaxGarbageSize)
	}
	b := make([]byte, size)
	g.fill(b)
	return b
}

// Short builds a short header packet: flags(1) dcid(16) payload.
func (g *Generator) Short() []byte {
	payloadLen := g.IntRange(MinShortPayload, MaxShortPayload)
	b := make([]byte, ShortHeaderLen+payloadLen)
	b[0] = ShortHeaderFlags
	g.fill(b[1:])
	return b
}

// Null returns between MinNullSize and MaxNullSize zero bytes.
func (g *Generator) Null() []byte {
	return make([]byte, g.IntRange(MinNullSize, MaxNullSize))
}

func (g *Generator) fill(b []byte) {
	_, _ = g.src.Read(b)
}
