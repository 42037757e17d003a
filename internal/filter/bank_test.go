package filter

import (
	"testing"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

func TestBankCarriesTimestampAndDevice(t *testing.T) {
	tuning := Tuning{ProcessNoise: 0.001, MeasurementNoise: 0.01}
	b := NewBank(tuning, tuning, tuning)

	ts := time.Now()
	raw := imu.RawSample{Device: "imu0", Ax: 0.1, Ay: -0.2, Az: 1.0, Gz: 3.5, Time: ts}
	fs := b.Apply(raw)

	if fs.Device != "imu0" {
		t.Errorf("device = %q, want imu0", fs.Device)
	}
	if !fs.Time.Equal(ts) {
		t.Errorf("timestamp not carried through: %v != %v", fs.Time, ts)
	}
	// First sample seeds every axis.
	if fs.Ax != 0.1 || fs.Ay != -0.2 || fs.Az != 1.0 || fs.Gz != 3.5 {
		t.Errorf("first filtered sample should equal raw, got %+v", fs)
	}
}

func TestBankAxesAreIndependent(t *testing.T) {
	tuning := Tuning{ProcessNoise: 0.01, MeasurementNoise: 0.1}
	b := NewBank(tuning, tuning, tuning)

	b.Apply(imu.RawSample{Ax: 0, Az: 1})
	fs := b.Apply(imu.RawSample{Ax: 1, Az: 1})

	if fs.Ax >= 1.0 {
		t.Errorf("Ax = %v, want smoothed below 1", fs.Ax)
	}
	if fs.Az != 1.0 {
		t.Errorf("Az = %v, want 1 (constant input unaffected by Ax step)", fs.Az)
	}
}

func TestBankResetDiscardsAllState(t *testing.T) {
	tuning := Tuning{ProcessNoise: 0.001, MeasurementNoise: 0.1}
	b := NewBank(tuning, tuning, tuning)

	for i := 0; i < 20; i++ {
		b.Apply(imu.RawSample{Ax: 2, Ay: 2, Az: 2, Gx: 2, Gy: 2, Gz: 2})
	}
	b.Reset()

	fs := b.Apply(imu.RawSample{Ax: -1, Ay: -1, Az: -1, Gx: -1, Gy: -1, Gz: -1})
	if fs.Ax != -1 || fs.Ay != -1 || fs.Az != -1 || fs.Gx != -1 || fs.Gy != -1 || fs.Gz != -1 {
		t.Errorf("after reset first sample should seed, got %+v", fs)
	}
}
