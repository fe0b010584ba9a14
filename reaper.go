// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import "time"

// reaperLoop is the in-flight reaper of §4.F. It scans the in-flight list
// every defaultReapInterval and resurrects or discards entries whose lock
// has expired.
func (q *Queue[T]) reaperLoop() {
	defer close(q.reaperDone)
	t := time.NewTimer(q.reapInterval)
	defer t.Stop()
	for {
		select {
		case <-q.reaperc:
			return
		case <-t.C:
			q.reapOnce()
			t.Reset(q.reapInterval)
		}
	}
}

// reapOnce enumerates every ID currently in the in-flight list. This is
// unbounded, as specified; a large backlog makes this O(n) per poll (see
// §9 open question 3).
func (q *Queue[T]) reapOnce() {
	q.sizeGauge.Refresh(time.Now())

	ids, err := q.store.LRange(q.names.InFlightList(), 0, -1)
	if err != nil {
		logWarn(q.log, "msg", "reaper: could not list in-flight documents", "queue", q.cfg.Name, "err", err)
		return
	}
	for _, id := range ids {
		q.reapID(id)
	}
}

func (q *Queue[T]) reapID(id string) {
	ttl, err := q.store.TTL(q.names.LockKey(id))
	if err != nil {
		logWarn(q.log, "msg", "reaper: could not read lock TTL", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}
	if ttl > 0 {
		// Another consumer owns it.
		return
	}

	info, ok, err := q.GetState(id)
	if err != nil {
		logWarn(q.log, "msg", "reaper: could not read state", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}
	if !ok {
		// Content and state have both TTL-expired; leave it for a later
		// pass, as the source does.
		logInfo(q.log, "msg", "reaper: in-flight document has no state record", "queue", q.cfg.Name, "id", id)
		return
	}

	switch info.State {
	case StateProcessing:
		q.restore(id)
	case StateDone:
		q.discardInFlight(id, false)
	case StateFailed, StateNew:
		q.discardInFlight(id, true)
	}
}

// restore moves a document whose consumer died mid-job back onto the
// ready list, jumping the queue ahead of documents waiting their first
// attempt.
func (q *Queue[T]) restore(id string) {
	timer := q.rec.RestoreBlockedTimer()
	var err error
	timer.Time(func() {
		pipe := q.store.NewPipeline()
		pipe.LRem(q.names.InFlightList(), 1, id)
		pipe.LPush(q.names.ReadyList(), id)
		err = pipe.Exec()
	})
	if err != nil {
		logWarn(q.log, "msg", "reaper: could not restore document to ready list", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}
	logWarn(q.log, "msg", "reaper: consumer died mid-job, document restored", "queue", q.cfg.Name, "id", id)
}

// discardInFlight removes an ownerless, terminal-or-unprogressed document
// from the in-flight list and unblocks any waiter with STOP. lost is true
// when the entry represents a job that will never progress further
// (FAILED or NEW), logged at error rather than debug.
func (q *Queue[T]) discardInFlight(id string, lost bool) {
	pipe := q.store.NewPipeline()
	pipe.LRem(q.names.InFlightList(), 1, id)
	pipe.Publish(q.names.StateChannel(id), q.names.StopSentinel())
	if err := pipe.Exec(); err != nil {
		logWarn(q.log, "msg", "reaper: could not remove document and publish STOP", "queue", q.cfg.Name, "id", id, "err", err)
		return
	}
	if lost {
		logError(q.log, "msg", "reaper: losing a job", "queue", q.cfg.Name, "id", id)
	} else {
		logDebug(q.log, "msg", "reaper: cleaned up completed document left in in-flight list", "queue", q.cfg.Name, "id", id)
	}
}
