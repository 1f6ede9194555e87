package ink

// PRNG is a Park-Miller minimal-standard LCG: seed in [1, 2^31-2],
// next = (seed * 48271) mod (2^31 - 1). Required so seeded runs
// reproduce identically across implementations (spec scenario: for
// seed 1, successive next() calls return 48271, 182605794, 1291394886).
type PRNG struct {
	seed int
}

const prngModulus = 2147483647 // 2^31 - 1

func NewPRNG(seed int) *PRNG {
	s := seed % prngModulus
	if s <= 0 {
		s += prngModulus - 1
	}
	return &PRNG{seed: s}
}

func (p *PRNG) Next() int {
	p.seed = (p.seed * 48271) % prngModulus
	return p.seed
}

func (p *PRNG) NextFloat() float64 {
	return float64(p.Next()-1) / float64(prngModulus-1)
}
