package ble

import "math/rand/v2"

// RateWalk produces a bounded random walk of heart rates for the strap
// emulator.
type RateWalk struct {
	bpm, lo, hi int
	rng         *rand.Rand
}

func NewRateWalk(start, lo, hi int, seed uint64) *RateWalk {
	start = max(lo, min(start, hi))
	return &RateWalk{bpm: start, lo: lo, hi: hi, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (w *RateWalk) Next() int {
	w.bpm = max(w.lo, min(w.bpm+w.rng.IntN(5)-2, w.hi))
	return w.bpm
}
