// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import "time"

// KeyMissingTTL and NoExpiryTTL mirror Redis's TTL command sentinels: -2
// means the key does not exist, -1 means the key exists but has no
// associated expiry.
const (
	KeyMissingTTL int64 = -2
	NoExpiryTTL   int64 = -1
)

// Store is the minimal surface the core needs from a Redis-like backend:
// the primitives named in the external interface, plus a pipelined
// multi-command submission with all-or-nothing semantics for non-blocking
// writes. Implementations must provide pipelined submission and a
// blocking right-pop-left-push; no command within a pipeline depends on
// the result of a prior command in the same group.
type Store interface {
	// NewPipeline starts a pipelined, all-or-nothing group of writes.
	NewPipeline() Pipeline

	// LRem removes up to count occurrences of value from the list at key.
	LRem(key string, count int, value string) error

	// LRange returns the elements of the list at key between start and
	// stop (inclusive), Redis slice semantics (-1 means last element).
	LRange(key string, start, stop int64) ([]string, error)

	// LLen returns the length of the list at key.
	LLen(key string) (int64, error)

	// Get returns the value at key and whether it was present.
	Get(key string) (string, bool, error)

	// TTL returns the remaining seconds until key expires, or
	// KeyMissingTTL / NoExpiryTTL.
	TTL(key string) (int64, error)

	// Keys returns every key matching pattern.
	Keys(pattern string) ([]string, error)

	// BRPopLPush blocks up to timeout for an element to appear at src,
	// atomically moving it to the head of dst. ok is false on timeout.
	BRPopLPush(src, dst string, timeout time.Duration) (value string, ok bool, err error)

	// Subscribe opens a dedicated subscription to channel. The
	// subscription is confirmed active before Subscribe returns.
	Subscribe(channel string) (Subscription, error)

	// Close releases resources held by the store.
	Close() error
}

// Pipeline batches SETEX/LPUSH/LREM/PUBLISH writes into a single
// all-or-nothing submission. Calls return the Pipeline so they can be
// chained; the pipeline only runs when Exec is called.
type Pipeline interface {
	SetEX(key string, ttl time.Duration, value string) Pipeline
	LPush(key, value string) Pipeline
	RPush(key, value string) Pipeline
	LRem(key string, count int, value string) Pipeline
	Publish(channel, message string) Pipeline
	Exec() error
}

// Subscription delivers messages published to a single channel after it
// was confirmed active, in order, one at a time.
type Subscription interface {
	// Receive blocks for the next message, or returns an error if the
	// subscription's connection fails or Close is called concurrently.
	Receive() (string, error)
	Close() error
}
