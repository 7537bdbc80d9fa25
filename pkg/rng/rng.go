package rng

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"math/bits"
	mathrand "math/rand"

	"github.com/racepool/engine/pkg/common/logger"
)

const blockWords = 16

// uniformMaxRetries bounds rejection sampling before the biased modulo
// fallback kicks in. At 64 draws the worst-case rejection probability
// (just under 1/2 per draw) leaves the fallback statistically negligible.
const uniformMaxRetries = 64

// Generator is a deterministic-from-seed ChaCha20 word stream. It backs
// every draw the outcome engine makes, so it is NOT safe for concurrent
// use: the round manager owns it and serializes access together with
// round mutation, otherwise audit replay of the stream breaks.
type Generator struct {
	key     [8]uint32
	nonce   [3]uint32
	counter uint32
	block   [16]uint32
	cursor  int // next unread word; blockWords means exhausted

	insecure bool
	log      *slog.Logger
}

// New seeds a generator from OS entropy. If the entropy read fails it
// falls back to a non-cryptographic seed; the generator is then marked
// Insecure and must never decide payout-critical outcomes.
func New() *Generator {
	var seed [8]uint32
	var buf [32]byte
	insecure := false

	if _, err := rand.Read(buf[:]); err != nil {
		insecure = true
		logger.Warn("OS entropy unavailable, seeding RNG from non-cryptographic source", "err", err)
		for i := range seed {
			seed[i] = mathrand.Uint32()
		}
	} else {
		for i := range seed {
			seed[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		}
	}

	g := NewSeeded(seed)
	g.insecure = insecure
	return g
}

// NewSeeded constructs a generator with a fixed key. Two generators with
// the same seed produce identical streams, which is what audit replay
// and the deterministic tests rely on.
func NewSeeded(seed [8]uint32) *Generator {
	g := &Generator{
		log: logger.With("component", "rng"),
	}
	g.Reseed(seed)
	return g
}

// Reseed replaces the key and resets nonce, counter and cursor, starting
// a fresh stream.
func (g *Generator) Reseed(seed [8]uint32) {
	g.key = seed
	g.nonce = [3]uint32{}
	g.counter = 0
	g.cursor = blockWords
}

// Insecure reports whether the generator was seeded from a
// non-cryptographic fallback source.
func (g *Generator) Insecure() bool {
	return g.insecure
}

// Counter returns the current block counter, Cursor the position inside
// the current block. Together they identify the stream position for
// audit logs.
func (g *Generator) Counter() uint32 { return g.counter }
func (g *Generator) Cursor() int     { return g.cursor }

func (g *Generator) refill() {
	chachaBlock(&g.key, g.counter, &g.nonce, &g.block)

	// The add-back of the initial state makes an all-zero output block
	// impossible for any input; seeing one means corrupted generator
	// state, which is fatal for payout correctness.
	if g.block[0] == 0 && g.block[1] == 0 && g.block[2] == 0 && g.block[3] == 0 {
		panic("rng: chacha block generation produced degenerate output")
	}

	g.counter++ // wraps mod 2^32 by uint32 arithmetic
	g.cursor = 0
}

// Next32 returns the next 32-bit keystream word, regenerating the block
// lazily when the current one is exhausted.
func (g *Generator) Next32() uint32 {
	if g.cursor >= blockWords {
		g.refill()
	}
	w := g.block[g.cursor]
	g.cursor++
	return w
}

// UniformFloat returns a uniformly distributed float64 in [0, 1) built
// from a 53-bit mantissa (27 high bits + 26 low bits).
func (g *Generator) UniformFloat() float64 {
	hi := uint64(g.Next32() >> 5) // 27 bits
	lo := uint64(g.Next32() >> 6) // 26 bits
	return float64(hi<<26|lo) / (1 << 53)
}

// UniformInt returns an unbiased integer in [0, max) via rejection
// sampling. After uniformMaxRetries rejections it logs and falls back to
// the (slightly biased) modulo reduction rather than looping forever.
func (g *Generator) UniformInt(max int) int {
	if max <= 0 {
		panic("rng: UniformInt max must be positive")
	}
	if max == 1 {
		return 0
	}

	mask := uint32(1)<<bits.Len32(uint32(max-1)) - 1
	for attempt := 0; attempt < uniformMaxRetries; attempt++ {
		v := g.Next32() & mask
		if v < uint32(max) {
			return int(v)
		}
	}

	g.log.Warn("uniform draw exhausted rejection retries, using modulo fallback",
		"max", max,
		"retries", uniformMaxRetries,
	)
	return int(g.Next32() % uint32(max))
}

// Shuffle returns a new slice holding a Fisher-Yates permutation of seq.
// The input is never mutated.
func Shuffle[T any](g *Generator, seq []T) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	for i := len(out) - 1; i > 0; i-- {
		j := g.UniformInt(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
