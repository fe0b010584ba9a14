package redisq

import "time"

// Document is the opaque payload a producer pushes onto a queue. The ID is
// the sole identity used for all keying and must be stable and non-empty
// for the lifetime of the document.
type Document interface {
	ID() string
}

// TimedPayload pairs a Document with the timestamp, in milliseconds since
// the epoch, at which it was pushed. The timestamp is assigned once, at
// Push, and never updated.
type TimedPayload[T Document] struct {
	Document  T     `json:"document"`
	Timestamp int64 `json:"timestamp"`
}

// Age returns how long ago the payload was enqueued, relative to now.
func (p TimedPayload[T]) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.Timestamp))
}

// State is a document's position in the queue's state machine.
//
//	NEW -> PROCESSING -> DONE
//	               `---> FAILED
//
// There are no reverse transitions. DONE and FAILED are terminal and are
// not mutated further by the core; they are only subject to TTL eviction.
type State string

const (
	StateNew        State = "NEW"
	StateProcessing State = "PROCESSING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// IsTerminal reports whether no further transition out of s is legal.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// StateInfo is the durable record of a document's current state.
type StateInfo struct {
	State     State  `json:"state"`
	Timestamp int64  `json:"timestamp"`
	Info      string `json:"info,omitempty"`
}

// ExtendedStateInfo pairs a StateInfo with the Redis key it was read from,
// as returned when enumerating the state of every document in the store.
type ExtendedStateInfo struct {
	Key       string
	StateInfo StateInfo
}

// StateSet is a small set of target states used by the state-wait
// primitive; membership test is a map lookup.
type StateSet map[State]struct{}

// NewStateSet builds a StateSet from the given states.
func NewStateSet(states ...State) StateSet {
	set := make(StateSet, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether s is a member of the set.
func (set StateSet) Contains(s State) bool {
	_, ok := set[s]
	return ok
}
