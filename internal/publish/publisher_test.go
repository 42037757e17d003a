package publish

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// fakeSession is a scriptable in-memory broker session.
type fakeSession struct {
	mu           sync.Mutex
	connectErrs  int // number of initial Connect calls that fail
	connects     int
	connected    bool
	published    []Message
	publishErr   error
	disconnected bool
}

func (f *fakeSession) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.connectErrs {
		return errors.New("connection refused")
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Publish(m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeSession) Disconnect(quiesceMS uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, m := range f.published {
		out[i] = m.Topic
	}
	return out
}

func testOptions() Options {
	return Options{
		BrokerURL:      "tcp://test:1883",
		ClientID:       "test",
		BaseTopic:      "telemetry",
		QoS:            1,
		QueueSize:      8,
		AutoReconnect:  true,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRingDropOldest(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(Message{Topic: fmt.Sprintf("t%d", i)})
	}
	if r.len() != 3 {
		t.Fatalf("len = %d, want capacity 3", r.len())
	}
	// Oldest two were dropped; remaining pop in order.
	for _, want := range []string{"t2", "t3", "t4"} {
		m, ok := r.pop()
		if !ok || m.Topic != want {
			t.Errorf("pop = %q %v, want %q", m.Topic, ok, want)
		}
	}
	if _, ok := r.pop(); ok {
		t.Error("pop from empty ring succeeded")
	}
}

func TestConnectsAndPublishesCycle(t *testing.T) {
	sess := &fakeSession{}
	p := newWithSession(testOptions(), sess)
	p.Start()
	defer p.Close(time.Second)

	waitFor(t, "connected", func() bool { return p.Status().State == Connected })

	ts := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	fs := imu.FilteredSample{Device: "imu0", Ax: 0.1, Az: 1.0, Time: ts}
	ds := imu.DerivedSample{Device: "imu0", GForceZ: 1.0, Time: ts}
	p.PublishCycle(fs, ds, true)

	waitFor(t, "3 messages", func() bool { return len(sess.topics()) == 3 })
	want := []string{
		"telemetry/IMU/imu0/INFO",
		"telemetry/IMU/imu0/FILTERED",
		"telemetry/IMU/imu0/DERIVED",
	}
	got := sess.topics()
	for i, topic := range want {
		if got[i] != topic {
			t.Errorf("topic[%d] = %q, want %q", i, got[i], topic)
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, m := range sess.published {
		if m.QoS != 1 {
			t.Errorf("%s QoS = %d, want 1", m.Topic, m.QoS)
		}
		if !strings.Contains(string(m.Payload), "2026-03-01T12:00:00.5Z") {
			t.Errorf("%s payload missing ISO timestamp: %s", m.Topic, m.Payload)
		}
	}
}

func TestDerivedWithheldOnDegenerateCycle(t *testing.T) {
	sess := &fakeSession{}
	p := newWithSession(testOptions(), sess)
	p.Start()
	defer p.Close(time.Second)

	waitFor(t, "connected", func() bool { return p.Status().State == Connected })
	p.PublishCycle(imu.FilteredSample{Device: "imu0", Time: time.Now()}, imu.DerivedSample{}, false)

	waitFor(t, "2 messages", func() bool { return len(sess.topics()) == 2 })
	time.Sleep(20 * time.Millisecond)
	for _, topic := range sess.topics() {
		if strings.HasSuffix(topic, "/DERIVED") {
			t.Errorf("DERIVED published on degenerate cycle: %v", sess.topics())
		}
	}
}

func TestReconnectSequence(t *testing.T) {
	sess := &fakeSession{connectErrs: 1}
	p := newWithSession(testOptions(), sess)
	p.Start()
	defer p.Close(time.Second)

	// First attempt fails: Connecting -> Backoff -> Connecting -> Connected.
	waitFor(t, "backoff observed then connected", func() bool {
		return p.Status().State == Connected
	})
	sess.mu.Lock()
	connects := sess.connects
	sess.mu.Unlock()
	if connects != 2 {
		t.Errorf("connect attempts = %d, want 2", connects)
	}
}

func TestSessionDropEntersBackoffAndClearsQueue(t *testing.T) {
	sess := &fakeSession{}
	opts := testOptions()
	opts.ReconnectDelay = time.Hour // keep it parked in backoff
	p := newWithSession(opts, sess)
	p.Start()
	defer p.Close(time.Second)

	waitFor(t, "connected", func() bool { return p.Status().State == Connected })

	// Fill the queue behind a broken session, then drop it.
	sess.mu.Lock()
	sess.publishErr = errors.New("broker went away")
	sess.mu.Unlock()
	p.PublishCycle(imu.FilteredSample{Device: "imu0", Time: time.Now()}, imu.DerivedSample{}, false)

	waitFor(t, "backoff", func() bool { return p.Status().State == Backoff })
	if p.q.len() != 0 {
		t.Errorf("queue not cleared on session drop: %d queued", p.q.len())
	}
	if p.Status().BackoffRemaining <= 0 {
		t.Error("backoff remaining not reported")
	}
}

func TestDropsWhileNotConnected(t *testing.T) {
	sess := &fakeSession{}
	p := newWithSession(testOptions(), sess)
	// Worker not started: state is Disconnected.

	p.Enqueue(Message{Topic: "t"})
	if p.q.len() != 0 {
		t.Errorf("message buffered while disconnected, queue len = %d", p.q.len())
	}
	if p.Status().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", p.Status().Dropped)
	}
}

func TestNoAutoReconnectParksDisconnected(t *testing.T) {
	sess := &fakeSession{connectErrs: 1}
	opts := testOptions()
	opts.AutoReconnect = false
	p := newWithSession(opts, sess)
	p.Start()
	defer p.Close(time.Second)

	waitFor(t, "disconnected", func() bool { return p.Status().State == Disconnected })
	time.Sleep(30 * time.Millisecond)
	sess.mu.Lock()
	connects := sess.connects
	sess.mu.Unlock()
	if connects != 1 {
		t.Errorf("connect attempts = %d, want 1 (no retries)", connects)
	}
}

func TestCloseDisconnectsSession(t *testing.T) {
	sess := &fakeSession{}
	p := newWithSession(testOptions(), sess)
	p.Start()
	waitFor(t, "connected", func() bool { return p.Status().State == Connected })

	p.Close(time.Second)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.disconnected {
		t.Error("session not disconnected on Close")
	}
}
