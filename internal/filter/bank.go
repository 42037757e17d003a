package filter

import "github.com/relabs-tech/imu_bridge/internal/imu"

// Bank holds the six per-axis filters for one device. The horizontal
// accelerometer axes share one tuning, the vertical axis has its own
// (gravity bias gives it different noise characteristics), and the gyro
// axes share a third.
type Bank struct {
	ax, ay, az *Kalman1D
	gx, gy, gz *Kalman1D
}

// NewBank creates a fresh filter bank for one device.
func NewBank(accel, accelZ, gyro Tuning) *Bank {
	return &Bank{
		ax: NewKalman1D(accel),
		ay: NewKalman1D(accel),
		az: NewKalman1D(accelZ),
		gx: NewKalman1D(gyro),
		gy: NewKalman1D(gyro),
		gz: NewKalman1D(gyro),
	}
}

// Apply runs each axis of a raw sample through its filter. The timestamp is
// carried through unchanged.
func (b *Bank) Apply(raw imu.RawSample) imu.FilteredSample {
	return imu.FilteredSample{
		Device: raw.Device,
		Ax:     b.ax.Update(raw.Ax),
		Ay:     b.ay.Update(raw.Ay),
		Az:     b.az.Update(raw.Az),
		Gx:     b.gx.Update(raw.Gx),
		Gy:     b.gy.Update(raw.Gy),
		Gz:     b.gz.Update(raw.Gz),
		Time:   raw.Time,
	}
}

// Reset discards all six filter states.
func (b *Bank) Reset() {
	b.ax.Reset()
	b.ay.Reset()
	b.az.Reset()
	b.gx.Reset()
	b.gy.Reset()
	b.gz.Reset()
}
