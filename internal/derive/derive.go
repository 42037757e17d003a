// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package derive

import (
	"errors"
	"math"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// ErrDegenerate is returned when the acceleration vector cannot support an
// angle computation (free fall or a faulted sensor). The caller should skip
// the derived output for that cycle rather than propagate garbage.
var ErrDegenerate = errors.New("degenerate acceleration vector")

// minDenominator is the smallest acceleration magnitude (in g) accepted as
// an angle denominator.
const minDenominator = 1e-3

// Metrics computes the derived physical quantities from one filtered sample.
//
// Axis convention (sensor mounted flat, X lateral, Y longitudinal, Z
// vertical, accelerometer in g, gyro in deg/s):
//
//	lean = atan(Ay / sqrt(Ax² + Az²))  tilt about the longitudinal axis
//	bank = atan(Ax / |Az|)
//
// both in degrees. Rotation rates map X→roll, Y→pitch, Z→yaw.
func Metrics(s imu.FilteredSample) (imu.DerivedSample, error) {
	leanDen := math.Sqrt(s.Ax*s.Ax + s.Az*s.Az)
	if leanDen < minDenominator || math.Abs(s.Az) < minDenominator {
		return imu.DerivedSample{}, ErrDegenerate
	}

	lean := math.Atan(s.Ay/leanDen) * 180.0 / math.Pi
	bank := math.Atan(s.Ax/math.Abs(s.Az)) * 180.0 / math.Pi

	return imu.DerivedSample{
		Device:    s.Device,
		GForceX:   s.Ax,
		GForceY:   s.Ay,
		GForceZ:   s.Az,
		RollRate:  s.Gx,
		PitchRate: s.Gy,
		YawRate:   s.Gz,
		LeanAngle: lean,
		BankAngle: bank,
		Time:      s.Time,
	}, nil
}
