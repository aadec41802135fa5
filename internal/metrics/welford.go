package metrics

import "math"

// WelfordState holds running statistics using Welford's online algorithm.
// Mean and variance are updated in O(1) without keeping the observations.
type WelfordState struct {
	Count int     // number of observations
	Mean  float64 // running mean
	M2    float64 // sum of squared differences from the mean
}

// NewWelfordState resumes a running state from persisted count, mean and M2.
func NewWelfordState(count int, mean, m2 float64) *WelfordState {
	if count <= 0 {
		return &WelfordState{}
	}
	return &WelfordState{Count: count, Mean: mean, M2: m2}
}

// Update adds a new observation.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
func (w *WelfordState) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (v - w.Mean)
}

// StdDev returns the population standard deviation, or 0 below two observations.
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
