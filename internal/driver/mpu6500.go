// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package driver

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// MPU6500/MPU9250 register map (shared register family).
const (
	regSmplrtDiv   = 0x19 // Sample Rate = Internal_Sample_Rate / (1 + SMPLRT_DIV)
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B // start of the 14-byte accel/temp/gyro burst
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIMPU6500 = 0x70
	whoAmIMPU9250 = 0x71
)

func init() {
	Register("mpu6500", func(bus Txer, s Settings) Driver {
		return newMPU(bus, s, "MPU6500", whoAmIMPU6500)
	})
	Register("mpu9250", func(bus Txer, s Settings) Driver {
		// Same register family as the MPU6500; the magnetometer die is
		// not used by this pipeline.
		return newMPU(bus, s, "MPU9250", whoAmIMPU9250)
	})
}

// mpu is the register-level driver for the MPU6500 family of IMUs.
type mpu struct {
	bus      Txer
	settings Settings
	model    string
	whoAmI   byte

	accelScale float64 // LSB per g
	gyroScale  float64 // LSB per deg/s

	gyroBias [3]float64 // counts, from startup calibration

	// calibration knobs, lowered in tests
	calSamples  int
	calInterval time.Duration
}

func newMPU(bus Txer, s Settings, model string, whoAmI byte) *mpu {
	return &mpu{
		bus:         bus,
		settings:    s,
		model:       model,
		whoAmI:      whoAmI,
		calSamples:  100,
		calInterval: 2 * time.Millisecond,
	}
}

func (m *mpu) write(reg, val byte) error {
	if err := m.bus.Tx(m.settings.Address, []byte{reg, val}, nil); err != nil {
		return fmt.Errorf("%w: %s write 0x%02X: %v", ErrNotResponding, m.model, reg, err)
	}
	return nil
}

func (m *mpu) read(reg byte, buf []byte) error {
	if err := m.bus.Tx(m.settings.Address, []byte{reg}, buf); err != nil {
		return fmt.Errorf("%w: %s read 0x%02X: %v", ErrNotResponding, m.model, reg, err)
	}
	return nil
}

// Init wakes the device and applies range and sample-rate settings, then
// calibrates the gyro bias. The device must be still during startup.
func (m *mpu) Init() error {
	if err := m.SelfTest(); err != nil {
		return err
	}

	// Wake from sleep, auto-select the best clock source.
	if err := m.write(regPwrMgmt1, 0x01); err != nil {
		return err
	}

	div := byte(1000/m.settings.SampleRate - 1)
	if err := m.write(regSmplrtDiv, div); err != nil {
		return err
	}

	var accelCfg byte
	switch m.settings.AccelRange {
	case 2:
		accelCfg, m.accelScale = 0x00, 16384.0
	case 4:
		accelCfg, m.accelScale = 0x08, 8192.0
	case 8:
		accelCfg, m.accelScale = 0x10, 4096.0
	case 16:
		accelCfg, m.accelScale = 0x18, 2048.0
	default:
		return fmt.Errorf("%s %s: unsupported accel range %dg", m.model, m.settings.Name, m.settings.AccelRange)
	}
	if err := m.write(regAccelConfig, accelCfg); err != nil {
		return err
	}

	var gyroCfg byte
	switch m.settings.GyroRange {
	case 250:
		gyroCfg, m.gyroScale = 0x00, 131.0
	case 500:
		gyroCfg, m.gyroScale = 0x08, 65.5
	case 1000:
		gyroCfg, m.gyroScale = 0x10, 32.8
	case 2000:
		gyroCfg, m.gyroScale = 0x18, 16.4
	default:
		return fmt.Errorf("%s %s: unsupported gyro range %d deg/s", m.model, m.settings.Name, m.settings.GyroRange)
	}
	if err := m.write(regGyroConfig, gyroCfg); err != nil {
		return err
	}

	return m.calibrateGyro()
}

// calibrateGyro averages a short burst of readings to estimate the gyro
// zero-rate bias, subtracted from every subsequent sample.
func (m *mpu) calibrateGyro() error {
	var sums [3]float64
	for i := 0; i < m.calSamples; i++ {
		frame, err := m.readFrame()
		if err != nil {
			return fmt.Errorf("%s %s: gyro calibration: %w", m.model, m.settings.Name, err)
		}
		for axis := 0; axis < 3; axis++ {
			sums[axis] += float64(frame[axis+4]) // gyro counts start after accel+temp
		}
		time.Sleep(m.calInterval)
	}
	for axis := 0; axis < 3; axis++ {
		m.gyroBias[axis] = sums[axis] / float64(m.calSamples)
	}
	return nil
}

// readFrame burst-reads the 14-byte accel/temp/gyro block and returns the
// seven big-endian signed words.
func (m *mpu) readFrame() ([7]int16, error) {
	var frame [7]int16
	buf := make([]byte, 14)
	if err := m.read(regAccelXoutH, buf); err != nil {
		return frame, err
	}

	allZero, allOnes := true, true
	for _, b := range buf {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZero || allOnes {
		return frame, fmt.Errorf("%w: %s returned a flat frame", ErrInvalidReading, m.model)
	}

	for i := range frame {
		frame[i] = int16(binary.BigEndian.Uint16(buf[2*i:]))
	}
	return frame, nil
}

// ReadRaw performs one bus transaction and converts register counts to
// physical units.
func (m *mpu) ReadRaw() (imu.RawSample, error) {
	frame, err := m.readFrame()
	if err != nil {
		return imu.RawSample{}, err
	}

	// frame layout: ax ay az temp gx gy gz
	return imu.RawSample{
		Device: m.settings.Name,
		Ax:     float64(frame[0]) / m.accelScale,
		Ay:     float64(frame[1]) / m.accelScale,
		Az:     float64(frame[2]) / m.accelScale,
		Gx:     (float64(frame[4]) - m.gyroBias[0]) / m.gyroScale,
		Gy:     (float64(frame[5]) - m.gyroBias[1]) / m.gyroScale,
		Gz:     (float64(frame[6]) - m.gyroBias[2]) / m.gyroScale,
		Time:   time.Now(),
	}, nil
}

// SelfTest checks the device identity register.
func (m *mpu) SelfTest() error {
	id := make([]byte, 1)
	if err := m.read(regWhoAmI, id); err != nil {
		return err
	}
	if id[0] != m.whoAmI {
		return fmt.Errorf("%w: %s WHO_AM_I = 0x%02X, want 0x%02X",
			ErrInvalidReading, m.model, id[0], m.whoAmI)
	}
	return nil
}
