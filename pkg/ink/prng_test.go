package ink

import "testing"

// TestPRNGSeedOneSequence pins the Park-Miller sequence for seed 1,
// which save files and shuffle sequences depend on staying stable.
func TestPRNGSeedOneSequence(t *testing.T) {
	want := []int{48271, 182605794, 1291394886}
	p := NewPRNG(1)
	for i, w := range want {
		if got := p.Next(); got != w {
			t.Fatalf("Next() call %d = %d, want %d", i+1, got, w)
		}
	}
}

// TestPRNGSeedNormalization checks that a non-positive or out-of-range
// seed is folded back into the valid [1, modulus-1] range instead of
// producing a zero or negative internal state.
func TestPRNGSeedNormalization(t *testing.T) {
	for _, seed := range []int{0, -5, prngModulus, prngModulus + 10} {
		p := NewPRNG(seed)
		if p.seed <= 0 {
			t.Fatalf("NewPRNG(%d) produced non-positive internal seed %d", seed, p.seed)
		}
	}
}
