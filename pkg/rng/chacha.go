package rng

// ChaCha20 block function (RFC 8439). The generator below needs direct
// access to the counter and block cursor for audit replay, so the block
// function is implemented here instead of going through a stream cipher
// wrapper that hides that state.

// "expand 32-byte k"
const (
	chachaConst0 = 0x61707865
	chachaConst1 = 0x3320646e
	chachaConst2 = 0x79622d32
	chachaConst3 = 0x6b206574
)

const chachaDoubleRounds = 10

func rotl32(v uint32, n uint) uint32 {
	return (v << n) | (v >> (32 - n))
}

func quarterRound(s *[16]uint32, a, b, c, d int) {
	s[a] += s[b]
	s[d] = rotl32(s[d]^s[a], 16)
	s[c] += s[d]
	s[b] = rotl32(s[b]^s[c], 12)
	s[a] += s[b]
	s[d] = rotl32(s[d]^s[a], 8)
	s[c] += s[d]
	s[b] = rotl32(s[b]^s[c], 7)
}

// chachaBlock fills out with one 16-word keystream block for the given
// key, block counter and nonce.
func chachaBlock(key *[8]uint32, counter uint32, nonce *[3]uint32, out *[16]uint32) {
	var initial [16]uint32
	initial[0] = chachaConst0
	initial[1] = chachaConst1
	initial[2] = chachaConst2
	initial[3] = chachaConst3
	copy(initial[4:12], key[:])
	initial[12] = counter
	copy(initial[13:16], nonce[:])

	state := initial
	for round := 0; round < chachaDoubleRounds; round++ {
		// column rounds
		quarterRound(&state, 0, 4, 8, 12)
		quarterRound(&state, 1, 5, 9, 13)
		quarterRound(&state, 2, 6, 10, 14)
		quarterRound(&state, 3, 7, 11, 15)
		// diagonal rounds
		quarterRound(&state, 0, 5, 10, 15)
		quarterRound(&state, 1, 6, 11, 12)
		quarterRound(&state, 2, 7, 8, 13)
		quarterRound(&state, 3, 4, 9, 14)
	}

	for i := range state {
		out[i] = state[i] + initial[i]
	}
}
