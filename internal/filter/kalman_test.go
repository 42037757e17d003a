package filter

import (
	"math"
	"testing"
)

func TestFirstMeasurementSeedsEstimate(t *testing.T) {
	k := NewKalman1D(Tuning{ProcessNoise: 0.001, MeasurementNoise: 0.01})
	if got := k.Update(9.81); got != 9.81 {
		t.Fatalf("first update = %v, want 9.81", got)
	}
}

func TestConvergesToConstantInput(t *testing.T) {
	// Convergence should take on the order of R/Q steps; give it a
	// comfortable margin.
	k := NewKalman1D(Tuning{ProcessNoise: 0.001, MeasurementNoise: 0.1})
	k.Update(0)

	const target = 1.0
	steps := int(0.1/0.001) * 3
	var got float64
	for i := 0; i < steps; i++ {
		got = k.Update(target)
	}
	if math.Abs(got-target) > 0.01 {
		t.Fatalf("after %d steps estimate = %v, want ~%v", steps, got, target)
	}
}

func TestSmoothsNoisyInput(t *testing.T) {
	k := NewKalman1D(Tuning{ProcessNoise: 0.001, MeasurementNoise: 1.0})
	k.Update(10.0)
	got := k.Update(15.0)
	if got <= 10.0 || got >= 15.0 {
		t.Fatalf("estimate = %v, want strictly between 10 and 15", got)
	}
}

func TestDeadZoneSuppressesJitter(t *testing.T) {
	k := NewKalman1D(Tuning{ProcessNoise: 0.01, MeasurementNoise: 0.1, DeadZone: 0.1})
	k.Update(1.0)

	// Oscillation within the dead zone around the estimate must produce
	// zero change in the output.
	for i := 0; i < 50; i++ {
		z := 1.0 + 0.05*math.Pow(-1, float64(i))
		if got := k.Update(z); got != 1.0 {
			t.Fatalf("step %d: estimate = %v, want 1.0 (gated)", i, got)
		}
	}

	// A step well outside the dead zone must move the estimate.
	if got := k.Update(2.0); got == 1.0 {
		t.Fatal("large innovation was gated, want update")
	}
}

func TestResetClearsState(t *testing.T) {
	k := NewKalman1D(Tuning{ProcessNoise: 0.001, MeasurementNoise: 0.01})
	k.Update(5.0)
	k.Update(5.0)
	k.Reset()

	if k.Estimate() != 0 {
		t.Fatalf("estimate after reset = %v, want 0", k.Estimate())
	}
	// Filter must re-seed from the next measurement, no memory of the 5.0.
	if got := k.Update(-3.0); got != -3.0 {
		t.Fatalf("first update after reset = %v, want -3.0", got)
	}
}
