// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"sync"
	"time"
)

// Future is a one-shot completion for a state-wait, per §4.G's
// re-architecture note: rather than a blocking-subscription thread, a
// single goroutine owns the subscription connection and resolves this
// Future exactly once.
type Future struct {
	id   string
	done chan struct{}
	err  error
	once sync.Once
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future resolves, returning nil if the document
// reached a target state and a *WaitError otherwise.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done returns a channel closed once the future resolves, for callers
// that want to select alongside other events.
func (f *Future) Done() <-chan struct{} { return f.done }

// GetFutureForDocumentStateWait returns a Future that resolves once id's
// state is a member of states. A timeout of zero waits indefinitely.
// Subscription happens before the catch-up read, per §4.G, eliminating
// the lost-wakeup race against a state transition published between
// subscribing and reading.
func (q *Queue[T]) GetFutureForDocumentStateWait(states StateSet, id string, timeout time.Duration) (*Future, error) {
	sub, err := q.store.Subscribe(q.names.StateChannel(id))
	if err != nil {
		return nil, &StateFutureInitializationError{ID: id, Err: err}
	}

	f := newFuture(id)

	if info, ok, err := q.GetState(id); err == nil && ok && states.Contains(info.State) {
		sub.Close()
		f.resolve(nil)
		return f, nil
	}

	go q.watchFuture(f, sub, states, timeout)
	return f, nil
}

// watchFuture owns sub for the lifetime of the wait, resolving f on the
// first message whose state matches, on STOP, on subscription failure, or
// on timeout.
func (q *Queue[T]) watchFuture(f *Future, sub Subscription, states StateSet, timeout time.Duration) {
	defer sub.Close()

	msgc := make(chan string)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := sub.Receive()
			if err != nil {
				errc <- err
				return
			}
			msgc <- msg
		}
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case msg := <-msgc:
			if msg == q.names.StopSentinel() {
				f.resolve(&WaitError{ID: f.id, Reason: "document reaped as lost"})
				return
			}
			info, err := q.stateCodec.Deserialize(msg)
			if err != nil {
				logWarn(q.log, "msg", "wait: could not deserialize state message", "queue", q.cfg.Name, "id", f.id, "err", err)
				continue
			}
			if states.Contains(info.State) {
				f.resolve(nil)
				return
			}
		case err := <-errc:
			f.resolve(&WaitError{ID: f.id, Reason: "subscription failed", Err: err})
			return
		case <-timeoutC:
			f.resolve(&WaitError{ID: f.id, Reason: "timeout"})
			return
		}
	}
}

// PushAndWait pushes doc and blocks until it reaches DONE or FAILED, or
// timeout elapses. The wait's subscription is established before Push so
// it cannot miss the NEW publish that push emits, per §4.G.
func (q *Queue[T]) PushAndWait(doc T, timeout time.Duration) error {
	future, err := q.GetFutureForDocumentStateWait(NewStateSet(StateDone, StateFailed), doc.ID(), timeout)
	if err != nil {
		return err
	}
	if err := q.Push(doc); err != nil {
		return err
	}
	return future.Wait()
}
