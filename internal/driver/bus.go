package driver

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Txer is the one bus operation drivers need. *Bus implements it; tests
// substitute a fake.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
}

// Bus wraps one physical I2C bus. Multiple devices may share a bus, so every
// transaction takes the bus mutex; the mutex is per bus, not per device.
type Bus struct {
	name string
	bus  i2c.BusCloser
	mu   sync.Mutex
}

// Tx performs one serialized write+read transaction.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Tx(addr, w, r)
}

// Close releases the underlying bus handle.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Close()
}

var (
	hostOnce sync.Once
	hostErr  error
)

// Pool hands out one shared *Bus per bus name.
type Pool struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

func NewPool() *Pool {
	return &Pool{buses: map[string]*Bus{}}
}

// Open returns the shared Bus for a bus name, opening it on first use.
func (p *Pool) Open(name string) (*Bus, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("periph host init: %w", hostErr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buses[name]; ok {
		return b, nil
	}
	raw, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c bus %q open: %w", name, err)
	}
	b := &Bus{name: name, bus: raw}
	p.buses[name] = b
	return b, nil
}

// Close closes every opened bus.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for name, b := range p.buses {
		if err := b.Close(); err != nil && first == nil {
			first = fmt.Errorf("i2c bus %q close: %w", name, err)
		}
		delete(p.buses, name)
	}
	return first
}
