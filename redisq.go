// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// minTTLLockMargin is the minimum gap invariant §3.1 requires between
// TTLStateInfo and LockTime, so that when the reaper finds an expired lock
// the state record is still readable.
const minTTLLockMargin = 60 * time.Second

// defaultReapInterval is how often the in-flight reaper scans, per §4.F.
const defaultReapInterval = 5 * time.Second

// Handler is the caller-supplied per-document processor. It is invoked on
// an Executor goroutine with the Queue so it can call SetState; the core
// never inspects a handler's return, since the handler alone is
// responsible for eventually transitioning the document to DONE or
// FAILED.
type Handler[T Document] func(q *Queue[T], doc T)

// Config configures a Queue. Store, Logger, Recorder, and Executor each
// default to a working implementation when left zero, so New never
// requires a live Redis server to construct.
type Config[T Document] struct {
	// Name identifies this queue and namespaces its keys so several
	// queues can share one Store.
	Name string

	// Store is the backing key/value + list + pub/sub store. Defaults to
	// a fresh MemStore.
	Store Store

	// Logger receives structured log records. Defaults to NewStdLogger().
	Logger Logger

	// Recorder receives metric updates. Defaults to NopRecorder{}.
	Recorder Recorder

	// Executor dispatches documents to the Handler. Defaults to a small
	// WorkerPoolExecutor.
	Executor Executor

	// Handler processes a claimed document. Required.
	Handler Handler[T]

	// Timeout bounds the main loop's blocking right-pop-left-push.
	Timeout time.Duration

	// TTLStateInfo is the TTL applied to content and state records.
	TTLStateInfo time.Duration

	// LockTime is the TTL applied to a document's ownership lock.
	LockTime time.Duration

	// DiscardTime is the maximum age, from push to dispatch, beyond
	// which a claimed document is skipped rather than executed.
	DiscardTime time.Duration

	// StrictRequeueOnReject corrects the rejection-compensation path of
	// §4.E step 6 to re-enqueue the ID into the ready list instead of
	// preserving the source's lpush-into-a-string-key bug. Default false
	// keeps the bug-compatible behavior; see DESIGN.md.
	StrictRequeueOnReject bool
}

// Queue is a durable, at-least-once job queue for documents of type T.
// The zero value is not usable; construct one with New.
type Queue[T Document] struct {
	cfg Config[T]

	store    Store
	log      Logger
	rec      Recorder
	executor Executor
	handler  Handler[T]
	names    Names

	payloadCodec Codec[TimedPayload[T]]
	stateCodec   Codec[StateInfo]

	timeout      time.Duration
	ttlStateInfo time.Duration
	lockTime     time.Duration
	discardTime  time.Duration

	sizeGauge *CachedQueueSizeGauge

	// reapInterval is defaultReapInterval in production; tests shrink it
	// to observe reaping without a multi-second sleep.
	reapInterval time.Duration

	running atomic.Bool

	closeMu      sync.Mutex
	started      bool
	closed       bool
	consumerc    chan struct{}
	reaperc      chan struct{}
	consumerDone chan struct{}
	reaperDone   chan struct{}
}

// New validates cfg and returns a Queue ready to Push into and, once
// StartConsumer is called, to process documents from.
func New[T Document](cfg Config[T]) (*Queue[T], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("redisq: Config.Name is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("redisq: Config.Handler is required")
	}
	if cfg.TTLStateInfo-cfg.LockTime <= minTTLLockMargin {
		return nil, fmt.Errorf("redisq: TTLStateInfo (%s) - LockTime (%s) must exceed %s", cfg.TTLStateInfo, cfg.LockTime, minTTLLockMargin)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = NewStdLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Executor == nil {
		cfg.Executor = NewWorkerPoolExecutor(runtimeDefaultWorkers(), 64, cfg.Logger)
	}

	q := &Queue[T]{
		cfg:          cfg,
		store:        cfg.Store,
		log:          cfg.Logger,
		rec:          cfg.Recorder,
		executor:     cfg.Executor,
		handler:      cfg.Handler,
		names:        NewNames(cfg.Name),
		payloadCodec: NewCodec[TimedPayload[T]](),
		stateCodec:   NewCodec[StateInfo](),
		timeout:      cfg.Timeout,
		ttlStateInfo: cfg.TTLStateInfo,
		lockTime:     cfg.LockTime,
		discardTime:  cfg.DiscardTime,
		reapInterval: defaultReapInterval,
	}
	q.sizeGauge = NewCachedQueueSizeGauge(q.rec.ReadyListGauge(), 15*time.Second, func() (int64, error) {
		return q.store.LLen(q.names.ReadyList())
	})
	return q, nil
}

func runtimeDefaultWorkers() int { return 8 }

// GetName returns the queue's name, as given in Config.
func (q *Queue[T]) GetName() string { return q.cfg.Name }

// Push atomically enqueues doc: in one pipelined group it pre-locks the
// ID, pushes it onto the ready list, writes content and state, and
// publishes StateNew. See §4.D.
func (q *Queue[T]) Push(doc T) error {
	timer := q.rec.PushTimer()
	var err error
	timer.Time(func() { err = q.push(doc) })
	return err
}

func (q *Queue[T]) push(doc T) error {
	id := doc.ID()
	if id == "" {
		return &QueueError{Op: "push", Err: fmt.Errorf("document has empty ID")}
	}
	now := time.Now()

	payload := TimedPayload[T]{Document: doc, Timestamp: now.UnixMilli()}
	payloadStr, err := q.payloadCodec.Serialize(payload)
	if err != nil {
		q.rec.SerializationErrors().Inc(1)
		return &QueueError{Op: "push", ID: id, Err: err}
	}

	info := StateInfo{State: StateNew, Timestamp: now.UnixMilli()}
	infoStr, err := q.stateCodec.Serialize(info)
	if err != nil {
		q.rec.SerializationErrors().Inc(1)
		return &QueueError{Op: "push", ID: id, Err: err}
	}

	pipe := q.store.NewPipeline()
	pipe.SetEX(q.names.LockKey(id), q.lockTime, "locked")
	pipe.LPush(q.names.ReadyList(), id)
	pipe.SetEX(q.names.ContentKey(id), q.ttlStateInfo, payloadStr)
	pipe.SetEX(q.names.StateKey(id), q.ttlStateInfo, infoStr)
	pipe.Publish(q.names.StateChannel(id), infoStr)
	if err := pipe.Exec(); err != nil {
		return &QueueError{Op: "push", ID: id, Err: err}
	}
	return nil
}

// setState writes a fresh StateInfo for id and publishes it, per §4.C. It
// is used both by SetState (called by handlers) and internally by the
// consumer loop's claim.
func (q *Queue[T]) setState(id string, state State, info string) error {
	si := StateInfo{State: state, Timestamp: time.Now().UnixMilli(), Info: info}
	raw, err := q.stateCodec.Serialize(si)
	if err != nil {
		q.rec.SerializationErrors().Inc(1)
		return &QueueError{Op: "setState", ID: id, Err: err}
	}
	pipe := q.store.NewPipeline()
	pipe.SetEX(q.names.StateKey(id), q.ttlStateInfo, raw)
	pipe.Publish(q.names.StateChannel(id), raw)
	if err := pipe.Exec(); err != nil {
		return &QueueError{Op: "setState", ID: id, Err: err}
	}
	return nil
}

// SetState transitions id to state with the given free-form info, and
// publishes the transition to any waiter. Handlers must call this with
// DONE or FAILED before returning; see §7.
func (q *Queue[T]) SetState(id string, state State, info string) error {
	return q.setState(id, state, info)
}

// GetState returns id's current StateInfo, or ok=false if no state record
// exists (evicted by TTL or never pushed).
func (q *Queue[T]) GetState(id string) (info StateInfo, ok bool, err error) {
	raw, present, err := q.store.Get(q.names.StateKey(id))
	if err != nil {
		return StateInfo{}, false, &QueueError{Op: "getState", ID: id, Err: err}
	}
	if !present {
		return StateInfo{}, false, nil
	}
	info, err = q.stateCodec.Deserialize(raw)
	if err != nil {
		return StateInfo{}, false, &QueueError{Op: "getState", ID: id, Err: err}
	}
	return info, true, nil
}

// GetStates enumerates every state record currently in the store for this
// queue as a lazily-produced stream: the channel is filled from a
// goroutine so a caller can stop consuming early without paying for keys
// it never reads.
func (q *Queue[T]) GetStates() (<-chan ExtendedStateInfo, error) {
	keys, err := q.store.Keys(q.names.StateKeyPattern())
	if err != nil {
		return nil, &QueueError{Op: "getStates", Err: err}
	}
	out := make(chan ExtendedStateInfo)
	go func() {
		defer close(out)
		for _, key := range keys {
			raw, present, err := q.store.Get(key)
			if err != nil || !present {
				continue
			}
			info, err := q.stateCodec.Deserialize(raw)
			if err != nil {
				logWarn(q.log, "msg", "getStates: could not deserialize state record", "key", key, "err", err)
				continue
			}
			out <- ExtendedStateInfo{Key: key, StateInfo: info}
		}
	}()
	return out, nil
}

// StartConsumer starts the main consumer loop and the in-flight reaper
// loop, per §4.H. It holds the same mutex as Close, and returns an error
// if the loops are already started.
func (q *Queue[T]) StartConsumer() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.started {
		return fmt.Errorf("redisq: %s: consumer already started", q.cfg.Name)
	}
	q.consumerc = make(chan struct{})
	q.reaperc = make(chan struct{})
	q.consumerDone = make(chan struct{})
	q.reaperDone = make(chan struct{})
	q.running.Store(true)
	q.started = true

	go q.consumerLoop()
	go q.reaperLoop()
	return nil
}

// Close stops both loops, if running, drains them, and tears down the
// Executor within a bounded timeout. The Executor is constructed
// unconditionally in New and starts its worker goroutines immediately, so
// Close must drain it even when StartConsumer was never called. push
// remains callable after Close returns, but with no consumer running it
// makes no further progress. Close is idempotent.
func (q *Queue[T]) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if q.started {
		q.running.Store(false)
		close(q.consumerc)
		close(q.reaperc)
		<-q.consumerDone
		<-q.reaperDone
		q.started = false
	}

	done := make(chan struct{})
	go func() {
		q.executor.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Minute):
		logWarn(q.log, "msg", "executor did not drain within timeout", "queue", q.cfg.Name)
	}
	return nil
}

// Running reports whether StartConsumer has been called without a
// matching Close, backed by an atomic flag. The loops themselves stop on
// the channels Close closes, not on this flag.
func (q *Queue[T]) Running() bool { return q.running.Load() }
