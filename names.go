// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import "strings"

// stopSentinel is published on a document's state channel by the reaper
// when it discovers the document can no longer make progress. It is
// distinguishable from any serialized StateInfo because StateInfo always
// serializes to a JSON object, never a bare identifier.
const stopSentinel = "STOP"

// Names is the deterministic, collision-free mapping from a queue name and
// a document ID to the Redis keys and channels of the data model. Every
// derived name embeds the queue name so one store can back several
// queues; the Store implementations use keys exactly as given.
type Names struct {
	queue string
}

// NewNames builds a Names for the given queue.
func NewNames(queue string) Names {
	return Names{queue: queue}
}

func (n Names) join(parts ...string) string {
	return strings.Join(append([]string{"redisq", n.queue}, parts...), ":")
}

// ReadyList is the list of IDs awaiting a consumer.
func (n Names) ReadyList() string { return n.join("ready") }

// InFlightList is the list of IDs a consumer has claimed but not yet
// acknowledged.
func (n Names) InFlightList() string { return n.join("inflight") }

// ContentKey is the key holding the serialized TimedPayload for id.
func (n Names) ContentKey(id string) string { return n.join("content", id) }

// StateKey is the key holding the serialized StateInfo for id.
func (n Names) StateKey(id string) string { return n.join("state", id) }

// LockKey is the key whose presence denotes active or expected ownership
// of id by some consumer.
func (n Names) LockKey(id string) string { return n.join("lock", id) }

// StateChannel is the pub/sub channel carrying state transitions for id.
func (n Names) StateChannel(id string) string { return n.join("channel", id) }

// StateKeyPattern is the glob pattern matching every document's state key
// in this queue, used by GetStates.
func (n Names) StateKeyPattern() string { return n.join("state", "*") }

// StopSentinel is the reserved pub/sub payload meaning "this document was
// reaped as lost; stop waiting".
func (n Names) StopSentinel() string { return stopSentinel }
