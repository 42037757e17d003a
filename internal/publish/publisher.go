// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// Message is one outbound broker message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Options configure the Publisher.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	BaseTopic      string
	QoS            byte
	QueueSize      int
	AutoReconnect  bool
	ReconnectDelay time.Duration
}

// session is the minimal broker session surface the state machine drives.
// The real implementation wraps a paho client; tests substitute a fake.
type session interface {
	Connect() error
	Publish(m Message) error
	Disconnect(quiesceMS uint)
	IsConnected() bool
}

// Publisher owns the one broker session of the process: it turns samples
// into topic messages, runs the reconnect state machine, and drains a
// bounded outbound queue on its own schedule so broker latency never delays
// sample acquisition.
type Publisher struct {
	opts Options
	sess session
	q    *ring

	mu           sync.Mutex
	state        ConnState
	backoffUntil time.Time
	dropped      uint64

	kick chan struct{} // wakes the worker when messages are queued
	lost chan error    // connection-lost notifications from the transport
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Publisher backed by a paho MQTT session. Start must be
// called to begin connecting.
func New(opts Options) *Publisher {
	p := newWithSession(opts, nil)
	p.sess = newPahoSession(opts, p.notifyLost)
	return p
}

func newWithSession(opts Options, sess session) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Publisher{
		opts: opts,
		sess: sess,
		q:    newRing(opts.QueueSize),
		kick: make(chan struct{}, 1),
		lost: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// Start launches the session worker.
func (p *Publisher) Start() {
	p.setState(Connecting)
	p.wg.Add(1)
	go p.run()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			p.flush()
			return
		default:
		}

		switch p.getState() {
		case Connecting:
			if err := p.sess.Connect(); err != nil {
				log.Printf("publisher: connect to %s failed: %v", p.opts.BrokerURL, err)
				p.onSessionDown()
				continue
			}
			log.Printf("publisher: connected to %s", p.opts.BrokerURL)
			p.setState(Connected)

		case Connected:
			select {
			case <-p.done:
				p.flush()
				return
			case err := <-p.lost:
				log.Printf("publisher: connection lost: %v", err)
				p.onSessionDown()
			case <-p.kick:
				p.drain()
			}

		case Backoff:
			p.mu.Lock()
			remaining := time.Until(p.backoffUntil)
			p.mu.Unlock()
			timer := time.NewTimer(remaining)
			select {
			case <-p.done:
				timer.Stop()
				return
			case <-timer.C:
				p.setState(Connecting)
			}

		case Disconnected:
			// Terminal: auto-reconnect is off. Feature-fatal, not
			// process-fatal.
			<-p.done
			return
		}
	}
}

// onSessionDown routes a connect failure or session drop per configuration.
func (p *Publisher) onSessionDown() {
	if dropped := p.q.clear(); dropped > 0 {
		p.addDropped(uint64(dropped))
	}
	if p.opts.AutoReconnect {
		p.mu.Lock()
		p.state = Backoff
		p.backoffUntil = time.Now().Add(p.opts.ReconnectDelay)
		p.mu.Unlock()
		return
	}
	log.Printf("publisher: auto-reconnect disabled, staying disconnected")
	p.setState(Disconnected)
}

// drain publishes queued messages until the queue is empty or the session
// fails.
func (p *Publisher) drain() {
	for {
		m, ok := p.q.pop()
		if !ok {
			return
		}
		if err := p.sess.Publish(m); err != nil {
			log.Printf("publisher: publish to %s failed: %v", m.Topic, err)
			p.onSessionDown()
			return
		}
	}
}

// flush makes a best-effort pass over the remaining queue at shutdown.
func (p *Publisher) flush() {
	if p.getState() != Connected {
		return
	}
	p.drain()
}

func (p *Publisher) notifyLost(err error) {
	select {
	case p.lost <- err:
	default:
	}
}

// Enqueue admits a message to the outbound queue without ever blocking the
// measurement pipeline. While the session is not connected, messages are
// dropped rather than buffered: backoff duration is unbounded in principle.
func (p *Publisher) Enqueue(m Message) {
	if p.getState() != Connected {
		p.addDropped(1)
		return
	}
	if p.q.push(m) {
		p.addDropped(1)
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// PublishCycle enqueues one measurement cycle's INFO, FILTERED and DERIVED
// messages for a device. When the derived metrics were degenerate this
// cycle, DERIVED is withheld while FILTERED still goes out.
func (p *Publisher) PublishCycle(fs imu.FilteredSample, ds imu.DerivedSample, haveDerived bool) {
	p.Enqueue(infoMessage(p.opts.BaseTopic, fs, p.opts.QoS))
	p.Enqueue(filteredMessage(p.opts.BaseTopic, fs, p.opts.QoS))
	if haveDerived {
		p.Enqueue(derivedMessage(p.opts.BaseTopic, ds, p.opts.QoS))
	}
}

// Status reports the session state for display.
func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{State: p.state, Dropped: p.dropped}
	if p.state == Backoff {
		if remaining := time.Until(p.backoffUntil); remaining > 0 {
			s.BackoffRemaining = remaining
		}
	}
	return s
}

// Close stops the worker, giving it a bounded grace period to flush the
// queue, then disconnects the session.
func (p *Publisher) Close(grace time.Duration) {
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(grace):
		log.Printf("publisher: flush did not finish within %v", grace)
	}

	if p.sess.IsConnected() {
		p.sess.Disconnect(250)
	}
}

func (p *Publisher) getState() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) setState(s ConnState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Publisher) addDropped(n uint64) {
	p.mu.Lock()
	p.dropped += n
	p.mu.Unlock()
}

// pahoSession adapts a paho MQTT client to the session interface. Paho's own
// auto-reconnect is disabled: reconnects belong to the state machine above.
type pahoSession struct {
	client  mqtt.Client
	timeout time.Duration
}

func newPahoSession(opts Options, onLost func(error)) *pahoSession {
	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetConnectTimeout(10 * time.Second)
	co.SetAutoReconnect(false)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		onLost(err)
	})
	return &pahoSession{client: mqtt.NewClient(co), timeout: 10 * time.Second}
}

func (s *pahoSession) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("connect timeout after %v", s.timeout)
	}
	return token.Error()
}

func (s *pahoSession) Publish(m Message) error {
	token := s.client.Publish(m.Topic, m.QoS, false, m.Payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish timeout after %v", s.timeout)
	}
	return token.Error()
}

func (s *pahoSession) Disconnect(quiesceMS uint) {
	s.client.Disconnect(quiesceMS)
}

func (s *pahoSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}
