// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import "time"

// consumerLoop is the main consumer loop of §4.E. It runs until Close
// signals consumerc, blocking at most Timeout seconds per iteration on
// the ready list so the stop signal is observed promptly.
func (q *Queue[T]) consumerLoop() {
	defer close(q.consumerDone)
	for {
		select {
		case <-q.consumerc:
			return
		default:
		}
		q.consumerIteration()
	}
}

func (q *Queue[T]) consumerIteration() {
	idle := q.rec.IdleTimer()
	start := time.Now()
	id, ok, err := q.store.BRPopLPush(q.names.ReadyList(), q.names.InFlightList(), q.timeout)
	idle.Update(time.Since(start))
	if err != nil {
		logWarn(q.log, "msg", "consumer: blocking pop failed", "queue", q.cfg.Name, "err", err)
		return
	}
	if !ok {
		return
	}

	q.claimAndDispatch(id)
}

// claimAndDispatch implements §4.E steps 2-6 for one claimed ID.
func (q *Queue[T]) claimAndDispatch(id string) {
	if err := q.claim(id); err != nil {
		logWarn(q.log, "msg", "consumer: could not claim document", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}

	raw, present, err := q.store.Get(q.names.ContentKey(id))
	if err != nil || !present {
		logWarn(q.log, "msg", "consumer: content missing or unreadable, abandoning iteration", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}
	payload, err := q.payloadCodec.Deserialize(raw)
	if err != nil {
		q.rec.SerializationErrors().Inc(1)
		logWarn(q.log, "msg", "consumer: could not deserialize content, abandoning iteration", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}

	if q.discardTime > 0 {
		age := time.Since(time.UnixMilli(payload.Timestamp))
		if age >= q.discardTime {
			logInfo(q.log, "msg", "consumer: discarding stale document", "queue", q.cfg.Name, "id", id, "age", age)
			return
		}
	}

	q.dispatch(id, payload.Document)
}

// claim re-locks id (refreshing the producer's pre-lock), warns if the
// existing state is not NEW, and writes PROCESSING.
func (q *Queue[T]) claim(id string) error {
	pipe := q.store.NewPipeline()
	pipe.SetEX(q.names.LockKey(id), q.lockTime, "locked")
	if err := pipe.Exec(); err != nil {
		return &QueueError{Op: "claim", ID: id, Err: err}
	}

	if info, ok, err := q.GetState(id); err == nil && ok && info.State != StateNew {
		logWarn(q.log, "msg", "consumer: claimed document was not NEW", "queue", q.cfg.Name, "id", id, "state", info.State)
	}

	return q.setState(id, StateProcessing, "")
}

// dispatch submits doc's handler to the Executor. If the Executor rejects
// the submission, it performs the compensating re-enqueue of §4.E step 6.
func (q *Queue[T]) dispatch(id string, doc T) {
	dispatched := time.Now()
	waitTimer := q.rec.ExecuteWaitTimer()
	task := func() error {
		waitTimer.Update(time.Since(dispatched))
		q.handler(q, doc)
		return nil
	}

	if err := q.executor.Submit(task); err != nil {
		q.compensateRejection(id, doc)
	}
}

// compensateRejection runs when the Executor has no spare capacity. The
// source re-enqueues by lpushing the serialized payload into the content
// *key* rather than the ready list, which is almost certainly a latent
// bug; StrictRequeueOnReject opts into the corrected behavior instead. See
// DESIGN.md for the decision.
func (q *Queue[T]) compensateRejection(id string, doc T) {
	logWarn(q.log, "msg", "consumer: executor rejected submission, compensating", "queue", q.cfg.Name, "id", id)

	payload := TimedPayload[T]{Document: doc, Timestamp: time.Now().UnixMilli()}
	serialized, err := q.payloadCodec.Serialize(payload)
	if err != nil {
		q.rec.SerializationErrors().Inc(1)
		logWarn(q.log, "msg", "consumer: could not serialize document for rejection compensation", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}

	pipe := q.store.NewPipeline()
	if q.cfg.StrictRequeueOnReject {
		pipe.LPush(q.names.ReadyList(), id)
	} else {
		pipe.LPush(q.names.ContentKey(id), serialized)
	}
	if err := pipe.Exec(); err != nil {
		logWarn(q.log, "msg", "consumer: rejection compensation failed", "queue", q.cfg.Name, "id", id, "err", err)
	}
}
