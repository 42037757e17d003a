package derive

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

func TestLevelSensorGivesZeroAngles(t *testing.T) {
	// Zero lateral acceleration, full 1g vertical: both angles are zero.
	ds, err := Metrics(imu.FilteredSample{Az: 1.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.LeanAngle != 0 || ds.BankAngle != 0 {
		t.Errorf("lean = %v, bank = %v, want 0, 0", ds.LeanAngle, ds.BankAngle)
	}
}

func TestKnownTiltAngles(t *testing.T) {
	cases := []struct {
		name       string
		in         imu.FilteredSample
		lean, bank float64
	}{
		{"45 deg bank", imu.FilteredSample{Ax: 1.0, Az: 1.0}, 0, 45},
		{"negative bank", imu.FilteredSample{Ax: -1.0, Az: 1.0}, 0, -45},
		{"45 deg lean", imu.FilteredSample{Ay: 1.0, Az: 1.0}, 45, 0},
	}
	for _, tc := range cases {
		ds, err := Metrics(tc.in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if math.Abs(ds.LeanAngle-tc.lean) > 1e-9 || math.Abs(ds.BankAngle-tc.bank) > 1e-9 {
			t.Errorf("%s: lean = %v bank = %v, want %v %v",
				tc.name, ds.LeanAngle, ds.BankAngle, tc.lean, tc.bank)
		}
	}
}

func TestDegenerateVectorReturnsError(t *testing.T) {
	// Zero vertical with nonzero lateral: the bank denominator is gone and
	// the result must be the sentinel error, not a misleading angle.
	if _, err := Metrics(imu.FilteredSample{Ay: 0.5}); !errors.Is(err, ErrDegenerate) {
		t.Errorf("err = %v, want ErrDegenerate", err)
	}
	// Free fall: everything near zero.
	if _, err := Metrics(imu.FilteredSample{}); !errors.Is(err, ErrDegenerate) {
		t.Errorf("free fall err = %v, want ErrDegenerate", err)
	}
}

func TestPassThroughFields(t *testing.T) {
	ts := time.Now()
	in := imu.FilteredSample{
		Device: "imu0",
		Ax:     0.1, Ay: 0.2, Az: 0.9,
		Gx: 10, Gy: -20, Gz: 30,
		Time: ts,
	}
	ds, err := Metrics(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.GForceX != 0.1 || ds.GForceY != 0.2 || ds.GForceZ != 0.9 {
		t.Errorf("g-forces not passed through: %+v", ds)
	}
	if ds.RollRate != 10 || ds.PitchRate != -20 || ds.YawRate != 30 {
		t.Errorf("rates not relabeled roll/pitch/yaw: %+v", ds)
	}
	if ds.Device != "imu0" || !ds.Time.Equal(ts) {
		t.Errorf("device/timestamp not carried through: %+v", ds)
	}
}
