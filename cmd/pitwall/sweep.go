package main

import "time"

// sweepDisplayValue is the gauge needle position during the power-on sweep.
//
// Progress runs 0..2 over two sweep units: 0→full, full→0, 0→full, then an
// ease from half-scale down onto the live value.
func sweepDisplayValue(elapsed time.Duration, full, value float64) float64 {
	p := float64(elapsed) / float64(sweepUnit)
	switch {
	case p <= 0:
		return 0
	case p < 0.5:
		return full * (p / 0.5)
	case p < 1:
		return full * (1 - (p-0.5)/0.5)
	case p < 1.5:
		return full * ((p - 1) / 0.5)
	case p < 2:
		r := (p - 1.5) / 0.5
		return full*(1-r)*0.5 + value*r
	default:
		return value
	}
}
