package imu

import "time"

// RawSample is one reading cycle straight from a device driver, already
// converted to physical units (g for accel, deg/s for gyro).
// Produced once per acquisition cycle and consumed once, never retained.
type RawSample struct {
	Device string

	Ax float64 // g
	Ay float64
	Az float64

	Gx float64 // deg/s
	Gy float64
	Gz float64

	Time time.Time
}

// FilteredSample has the same shape as RawSample after noise reduction.
// The timestamp is carried through unchanged from the raw sample.
type FilteredSample struct {
	Device string

	Ax float64
	Ay float64
	Az float64

	Gx float64
	Gy float64
	Gz float64

	Time time.Time
}

// DerivedSample holds the physical quantities computed from a filtered
// sample: g-forces, rotation rates and the lean/bank tilt angles in degrees.
type DerivedSample struct {
	Device string

	GForceX float64
	GForceY float64
	GForceZ float64

	RollRate  float64 // deg/s
	PitchRate float64
	YawRate   float64

	LeanAngle float64 // degrees
	BankAngle float64

	Time time.Time
}
