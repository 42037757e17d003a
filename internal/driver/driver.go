// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// Errors a driver reports. Callers distinguish them with errors.Is.
var (
	// ErrNotResponding means the bus transaction failed (timeout, NACK).
	ErrNotResponding = errors.New("device not responding")
	// ErrInvalidReading means the device answered but the data is garbage
	// (all-zero frame, saturated frame, wrong identity).
	ErrInvalidReading = errors.New("invalid reading")
)

// Settings are the per-device hardware settings applied at Init.
type Settings struct {
	Name       string
	Address    uint16
	AccelRange int // g: 2, 4, 8, 16
	GyroRange  int // deg/s: 250, 500, 1000, 2000
	SampleRate int // Hz
}

// Driver is the capability set every sensor model implements. Variants are
// keyed by a driver-name string in configuration; adding a sensor model means
// registering a new variant, the scheduler never changes.
type Driver interface {
	// Init applies measurement-range and sample-rate settings to the device.
	Init() error
	// ReadRaw performs one bus transaction and converts raw register units
	// to physical units (g, deg/s).
	ReadRaw() (imu.RawSample, error)
	// SelfTest verifies the device identity and responsiveness.
	SelfTest() error
}

// Factory builds a driver bound to a bus and settings.
type Factory func(bus Txer, s Settings) Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver variant available under the given config name.
// Driver files call this from init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("driver: Register called twice for %q", name))
	}
	registry[name] = f
}

// New builds a driver by registry name.
func New(name string, bus Txer, s Settings) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q (have %v)", name, Names())
	}
	return f(bus, s), nil
}

// Names returns the registered driver names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
