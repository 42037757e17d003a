// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/derive"
	"github.com/relabs-tech/imu_bridge/internal/driver"
	"github.com/relabs-tech/imu_bridge/internal/filter"
	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// BusOpener opens a named hardware bus. Satisfied by *driver.Pool; tests
// substitute an in-memory bus.
type BusOpener interface {
	Open(name string) (driver.Txer, error)
}

// device is the per-device runtime state owned by the Bridge.
type device struct {
	cfg      config.DeviceConfig
	drv      driver.Driver
	bank     *filter.Bank
	enabled  bool
	failures int

	// Latest-sample store for UI consumers. Readers coalesce: they see
	// whatever the most recent completed cycle produced.
	haveSample  bool
	haveDerived bool
	filtered    imu.FilteredSample
	derived     imu.DerivedSample
}

// DeviceSnapshot is one device's entry in the UI read contract.
type DeviceSnapshot struct {
	Name        string
	Enabled     bool
	Failures    int
	HaveSample  bool
	HaveDerived bool
	Filtered    imu.FilteredSample
	Derived     imu.DerivedSample
}

// Snapshot is the latest state exposed to UI consumers.
type Snapshot struct {
	Measuring bool
	Publisher publish.Status
	Devices   []DeviceSnapshot
}

// Bridge wires the acquisition scheduler through the filter banks and the
// derived-metrics calculator into the publisher, and serves the UI read
// contract. All mutation of device state happens under mu, owned by the
// acquisition goroutine and the orchestration operations.
type Bridge struct {
	open BusOpener
	pub  *publish.Publisher

	mu        sync.RWMutex
	cfg       *config.Config
	devices   map[string]*device
	order     []string // device names in config file order
	measuring bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBridge builds the device set from cfg and probes each enabled device.
// A device that fails to initialize is logged and disabled; it can be
// retried later with ToggleDevice. An unknown driver name is fatal because
// it is a configuration error, not a hardware fault.
func NewBridge(cfg *config.Config, open BusOpener, pub *publish.Publisher) (*Bridge, error) {
	b := &Bridge{
		open:      open,
		pub:       pub,
		cfg:       cfg,
		devices:   map[string]*device{},
		measuring: true,
		done:      make(chan struct{}),
	}
	for _, dc := range cfg.Devices {
		dev, err := b.buildDevice(dc)
		if err != nil {
			return nil, err
		}
		b.devices[dc.Name] = dev
		b.order = append(b.order, dc.Name)
	}
	return b, nil
}

// buildDevice constructs a device from its config block and, when enabled,
// initializes the hardware. Init failure disables the device but is not an
// error: other devices keep running.
func (b *Bridge) buildDevice(dc config.DeviceConfig) (*device, error) {
	bus, err := b.open.Open(dc.Bus)
	if err != nil {
		return nil, fmt.Errorf("device %s: open bus %q: %w", dc.Name, dc.Bus, err)
	}
	drv, err := driver.New(dc.Driver, bus, driver.Settings{
		Name:       dc.Name,
		Address:    dc.Address,
		AccelRange: dc.AccelRange,
		GyroRange:  dc.GyroRange,
		SampleRate: dc.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dc.Name, err)
	}
	dev := &device{
		cfg:     dc,
		drv:     drv,
		bank:    filter.NewBank(dc.AccelFilter, dc.AccelZFilter, dc.GyroFilter),
		enabled: dc.Enabled,
	}
	if dev.enabled {
		if err := drv.Init(); err != nil {
			log.Printf("bridge: device %s init failed, disabling: %v", dc.Name, err)
			dev.enabled = false
		}
	}
	return dev, nil
}

// Start launches the acquisition loop.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop ends acquisition and waits for the in-flight cycle to finish. The
// publisher is shut down separately by the caller so queued messages get
// their flush grace period.
func (b *Bridge) Stop() {
	close(b.done)
	b.wg.Wait()
}

// run is the acquisition scheduler. Cycle deadlines are computed from a
// fixed origin (origin + n*interval) so per-cycle I/O latency does not
// accumulate into drift. A config reload that changes the interval resets
// the origin.
func (b *Bridge) run() {
	defer b.wg.Done()

	interval := b.interval()
	origin := time.Now()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for n := int64(1); ; n++ {
		select {
		case <-b.done:
			return
		case <-timer.C:
		}

		b.readCycle()

		if cur := b.interval(); cur != interval {
			interval = cur
			origin = time.Now()
			n = 0
		}
		next := origin.Add(time.Duration(n+1) * interval)
		wait := time.Until(next)
		if wait < 0 {
			// Overran one or more deadlines; fire immediately and let the
			// schedule catch up rather than bursting missed cycles.
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (b *Bridge) interval() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return time.Duration(b.cfg.UpdateInterval) * time.Millisecond
}

// readCycle runs one full measurement cycle over all enabled devices.
func (b *Bridge) readCycle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.measuring {
		return
	}
	for _, name := range b.order {
		dev := b.devices[name]
		if !dev.enabled {
			continue
		}
		b.readDevice(dev)
	}
}

// readDevice reads, filters, derives and fans out one device's sample.
// Called with mu held.
func (b *Bridge) readDevice(dev *device) {
	raw, err := dev.drv.ReadRaw()
	if err != nil {
		dev.failures++
		log.Printf("bridge: device %s read failed (%d/%d): %v",
			dev.cfg.Name, dev.failures, b.cfg.MaxReadFailures, err)
		if dev.failures >= b.cfg.MaxReadFailures {
			dev.enabled = false
			log.Printf("bridge: device %s disabled after %d consecutive read failures",
				dev.cfg.Name, dev.failures)
		}
		return
	}
	dev.failures = 0

	fs := dev.bank.Apply(raw)
	ds, derr := derive.Metrics(fs)

	dev.filtered = fs
	dev.haveSample = true
	dev.haveDerived = derr == nil
	if derr == nil {
		dev.derived = ds
	}

	b.pub.PublishCycle(fs, ds, derr == nil)
}

// ToggleMeasuring pauses or resumes the whole acquisition pipeline and
// returns the new state. Filter state is kept: a global pause is a view
// operation, not a device power cycle.
func (b *Bridge) ToggleMeasuring() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.measuring = !b.measuring
	log.Printf("bridge: measuring = %v", b.measuring)
	return b.measuring
}

// ToggleDevice enables or disables one device. Re-enabling discards the
// filter state and failure count, and re-runs hardware init so a device
// that was auto-disabled after a fault can be brought back.
func (b *Bridge) ToggleDevice(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, ok := b.devices[name]
	if !ok {
		return false, fmt.Errorf("unknown device %q", name)
	}
	if dev.enabled {
		dev.enabled = false
		log.Printf("bridge: device %s disabled", name)
		return false, nil
	}

	dev.bank.Reset()
	dev.failures = 0
	dev.haveSample = false
	dev.haveDerived = false
	if err := dev.drv.Init(); err != nil {
		return false, fmt.Errorf("device %s re-init: %w", name, err)
	}
	dev.enabled = true
	log.Printf("bridge: device %s enabled", name)
	return true, nil
}

// ReloadConfig loads a new configuration from path and swaps it in. Devices
// whose hardware settings changed are re-initialized; devices whose filter
// tuning changed get fresh filter state; unchanged devices are untouched.
// The publisher's broker session is never torn down by a reload. On any
// error the previous configuration stays active.
func (b *Bridge) ReloadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config reload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	devices := map[string]*device{}
	var order []string
	for _, dc := range cfg.Devices {
		old, exists := b.devices[dc.Name]
		if exists && old.cfg == dc {
			devices[dc.Name] = old
			order = append(order, dc.Name)
			continue
		}

		if exists && sameHardware(old.cfg, dc) {
			// Only tuning (or the enabled flag) changed: keep the driver,
			// rebuild the filter bank. The old device is left untouched so
			// a failure later in the reload keeps the previous state whole.
			devices[dc.Name] = &device{
				cfg:     dc,
				drv:     old.drv,
				bank:    filter.NewBank(dc.AccelFilter, dc.AccelZFilter, dc.GyroFilter),
				enabled: dc.Enabled,
			}
			order = append(order, dc.Name)
			log.Printf("bridge: device %s filter tuning reloaded", dc.Name)
			continue
		}

		dev, err := b.buildDevice(dc)
		if err != nil {
			return err
		}
		devices[dc.Name] = dev
		order = append(order, dc.Name)
		if exists {
			log.Printf("bridge: device %s re-initialized with new hardware settings", dc.Name)
		} else {
			log.Printf("bridge: device %s added", dc.Name)
		}
	}
	for _, name := range b.order {
		if _, kept := devices[name]; !kept {
			log.Printf("bridge: device %s removed", name)
		}
	}

	b.cfg = cfg
	b.devices = devices
	b.order = order
	log.Printf("bridge: configuration reloaded from %s", path)
	return nil
}

// sameHardware reports whether two device configs address the same physical
// setup, ignoring filter tuning and the enabled flag.
func sameHardware(a, c config.DeviceConfig) bool {
	return a.Bus == c.Bus && a.Address == c.Address && a.Driver == c.Driver &&
		a.AccelRange == c.AccelRange && a.GyroRange == c.GyroRange &&
		a.SampleRate == c.SampleRate
}

// Snapshot returns the latest per-device samples and publisher status for
// UI consumers. Readers are coalescing: they get whatever the most recent
// completed cycle produced, not every sample.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		Measuring: b.measuring,
		Publisher: b.pub.Status(),
	}
	for _, name := range b.order {
		dev := b.devices[name]
		s.Devices = append(s.Devices, DeviceSnapshot{
			Name:        name,
			Enabled:     dev.enabled,
			Failures:    dev.failures,
			HaveSample:  dev.haveSample,
			HaveDerived: dev.haveDerived,
			Filtered:    dev.filtered,
			Derived:     dev.derived,
		})
	}
	return s
}
