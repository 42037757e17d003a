// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import "math"

// Tuning holds the noise parameters for one axis group.
type Tuning struct {
	ProcessNoise     float64 // Q
	MeasurementNoise float64 // R
	DeadZone         float64 // innovation threshold below which updates are suppressed
}

// Kalman1D is a scalar recursive estimator with a dead-zone gate.
//
// Initial state policy: the first measurement seeds the estimate
// (x = z0, P = R), so the filter does not have to converge away from zero
// at startup. Reset returns to the unseeded state.
type Kalman1D struct {
	q        float64
	r        float64
	deadZone float64

	x      float64 // estimate
	p      float64 // estimate error variance
	seeded bool
}

// NewKalman1D creates a filter with the given tuning.
func NewKalman1D(t Tuning) *Kalman1D {
	return &Kalman1D{
		q:        t.ProcessNoise,
		r:        t.MeasurementNoise,
		deadZone: t.DeadZone,
		p:        t.MeasurementNoise,
	}
}

// Update feeds one raw measurement and returns the new estimate.
func (k *Kalman1D) Update(z float64) float64 {
	if !k.seeded {
		k.x = z
		k.p = k.r
		k.seeded = true
		return k.x
	}

	// Predict
	k.p += k.q

	gain := k.p / (k.p + k.r)

	// Dead-zone gate: treat small innovations as noise. The variance still
	// decays toward steady state so the gain stays well-conditioned while
	// the signal is stationary.
	if math.Abs(z-k.x) < k.deadZone {
		k.p *= 1 - gain
		return k.x
	}

	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return k.x
}

// Estimate returns the current state estimate.
func (k *Kalman1D) Estimate() float64 {
	return k.x
}

// Reset discards all state, returning the filter to the unseeded condition.
func (k *Kalman1D) Reset() {
	k.x = 0
	k.p = k.r
	k.seeded = false
}
