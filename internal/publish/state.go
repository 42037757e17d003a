package publish

import "time"

// ConnState is the broker session state, owned exclusively by the Publisher.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Backoff
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Status is a snapshot of the session state for consumers (UI, logs).
type Status struct {
	State            ConnState
	BackoffRemaining time.Duration // nonzero only in Backoff
	Dropped          uint64        // messages dropped since start
}
