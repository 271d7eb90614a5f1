package ot

import "time"

// Before is the single causal-ordering comparison used by the transform
// engine and the conflict detector. It approximates causality with wall-clock
// timestamps; swapping in a logical clock only requires changing this
// function.
func Before(a, b time.Time) bool {
	return a.Before(b)
}
