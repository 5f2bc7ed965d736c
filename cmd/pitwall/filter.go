package main

// distanceFilter is a fixed-length moving average over raw sonar samples.
// The zero value is empty; Mean reports false until a sample arrives.
type distanceFilter struct {
	samples []float64
}

// Push appends a sample, dropping the oldest beyond n.
func (f *distanceFilter) Push(v float64, n int) {
	if n < 1 {
		n = 1
	}
	f.samples = append(f.samples, v)
	if over := len(f.samples) - n; over > 0 {
		f.samples = append(f.samples[:0], f.samples[over:]...)
	}
}

// Mean returns the arithmetic mean of the window.
func (f distanceFilter) Mean() (float64, bool) {
	if len(f.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range f.samples {
		sum += v
	}
	return sum / float64(len(f.samples)), true
}

func (f *distanceFilter) Reset() {
	f.samples = f.samples[:0]
}

// resettle keeps only the newest sample so the window refills from fresh readings.
func (f *distanceFilter) resettle() {
	if n := len(f.samples); n > 1 {
		f.samples = append(f.samples[:0], f.samples[n-1])
	}
}
