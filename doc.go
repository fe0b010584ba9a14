// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package redisq implements a durable, at-least-once job queue on top of
// a Redis-like key/value store with publish/subscribe.
//
// Producers submit a Document identified by a stable string ID via Push.
// One or more consumers run StartConsumer, which blocks a goroutine on a
// Redis list pop, hands each document to an Executor, and expects the
// handler to eventually call SetState with DONE or FAILED. A second
// goroutine, the in-flight reaper, periodically scans for documents whose
// consumer lock has expired and either re-queues or discards them
// depending on their last recorded state.
//
// A document accepted by Push is guaranteed to eventually reach DONE,
// FAILED, or be rescued from a crashed consumer and re-queued, as long as
// at least one consumer is alive and handlers terminate. Exactly-once
// delivery, strict ordering under failures, and priority scheduling are
// explicitly not provided: handlers must be idempotent.
//
// Callers that need to synchronously wait for completion can use
// GetFutureForDocumentStateWait or the PushAndWait convenience, both built
// on a subscription to the document's per-ID state channel plus a
// catch-up read to avoid the lost-wakeup race.
package redisq
