package redisq

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type testDoc struct {
	Num int `json:"num"`
}

func (d testDoc) ID() string { return fmt.Sprintf("doc-%d", d.Num) }

func newTestQueue(t testing.TB, handler Handler[testDoc]) *Queue[testDoc] {
	t.Helper()
	q, err := New(Config[testDoc]{
		Name:         t.Name(),
		Store:        NewMemStore(),
		Handler:      handler,
		Timeout:      50 * time.Millisecond,
		TTLStateInfo: 61 * time.Second,
		LockTime:     200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.reapInterval = 30 * time.Millisecond
	return q
}

// Scenario 1: round-trip. Push a document, handler sets DONE, PushAndWait
// completes with StateDone.
func TestRoundTrip(t *testing.T) {
	q := newTestQueue(t, func(q *Queue[testDoc], d testDoc) {
		_ = q.SetState(d.ID(), StateDone, "")
	})
	if err := q.StartConsumer(); err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	if err := q.PushAndWait(testDoc{Num: 1}, 5*time.Second); err != nil {
		t.Fatalf("PushAndWait: %v", err)
	}

	info, ok, err := q.GetState("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want state present, got absent")
	}
	if want, got := StateDone, info.State; want != got {
		t.Errorf("want %v, got %v", want, got)
	}
}

// Scenario 2: a handler that "crashes" (never calls SetState) leaves its
// document PROCESSING with a lock that expires; the reaper restores it to
// ready and a later attempt completes it.
func TestReaperRestoresCrashedConsumer(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	q := newTestQueue(t, func(q *Queue[testDoc], d testDoc) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			// Simulate a consumer that dies mid-job: never call SetState.
			return
		}
		_ = q.SetState(d.ID(), StateDone, "")
	})
	if err := q.StartConsumer(); err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	future, err := q.GetFutureForDocumentStateWait(NewStateSet(StateDone, StateFailed), "doc-2", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Push(testDoc{Num: 2}); err != nil {
		t.Fatal(err)
	}
	if err := future.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got < 2 {
		t.Errorf("want at least 2 attempts, got %d", got)
	}
}

// Scenario 3: a document whose age already exceeds DiscardTime by the
// time a consumer claims it is skipped, left PROCESSING for the reaper.
func TestDiscardStaleDocument(t *testing.T) {
	q, err := New(Config[testDoc]{
		Name:         t.Name(),
		Store:        NewMemStore(),
		Handler:      func(q *Queue[testDoc], d testDoc) { t.Error("handler should not run for a discarded document") },
		Timeout:      50 * time.Millisecond,
		TTLStateInfo: 62 * time.Second,
		LockTime:     time.Second,
		DiscardTime:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	q.reapInterval = time.Hour // keep the reaper from interfering with this assertion

	if err := q.Push(testDoc{Num: 3}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond) // exceed DiscardTime before a consumer ever claims it

	if err := q.StartConsumer(); err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	time.Sleep(100 * time.Millisecond)

	info, ok, err := q.GetState("doc-3")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want state present, got absent")
	}
	if want, got := StateProcessing, info.State; want != got {
		t.Errorf("want %v (discarded, never executed), got %v", want, got)
	}
}

// Scenario 4: the reaper finds an in-flight document whose lock expired
// and whose state is DONE (the handler finished and the ID was left in
// in-flight). It cleans up and publishes STOP, failing any waiter still
// pending. The waiter here targets FAILED only, so the DONE publish does
// not resolve it and only STOP can.
func TestReaperPublishesSTOPForLostWaiter(t *testing.T) {
	q := newTestQueue(t, func(q *Queue[testDoc], d testDoc) {})
	id := "doc-4"

	future, err := q.GetFutureForDocumentStateWait(NewStateSet(StateFailed), id, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Push(testDoc{Num: 4}); err != nil {
		t.Fatal(err)
	}

	// Simulate a consumer claiming the document and the handler finishing
	// with DONE while the ID stays in in-flight.
	if _, ok, err := q.store.BRPopLPush(q.names.ReadyList(), q.names.InFlightList(), time.Second); err != nil || !ok {
		t.Fatalf("BRPopLPush: ok=%v err=%v", ok, err)
	}
	if err := q.setState(id, StateDone, ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(q.lockTime + 20*time.Millisecond) // let the lock expire

	q.reapOnce()

	err = future.Wait()
	waitErr, ok := err.(*WaitError)
	if !ok {
		t.Fatalf("want *WaitError, got %v (%T)", err, err)
	}
	if waitErr.Reason == "" {
		t.Error("want a reason on the WaitError")
	}

	n, err := q.store.LLen(q.names.InFlightList())
	if err != nil {
		t.Fatal(err)
	}
	if want, got := int64(0), n; want != got {
		t.Errorf("want in-flight list drained, got length %d", got)
	}
}

// Scenario 5: PushAndWait must not deadlock even when the handler
// completes before Push itself returns control to the caller's goroutine,
// because the subscription is established before the NEW publish.
func TestPushAndWaitNoRace(t *testing.T) {
	q := newTestQueue(t, func(q *Queue[testDoc], d testDoc) {
		_ = q.SetState(d.ID(), StateDone, "")
	})
	if err := q.StartConsumer(); err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	for i := 0; i < 20; i++ {
		if err := q.PushAndWait(testDoc{Num: 100 + i}, time.Second); err != nil {
			t.Fatalf("PushAndWait iteration %d: %v", i, err)
		}
	}
}

// Scenario 6: construction is rejected when TTLStateInfo - LockTime does
// not exceed the required margin.
func TestNewRejectsInsufficientMargin(t *testing.T) {
	_, err := New(Config[testDoc]{
		Name:         "q",
		Handler:      func(*Queue[testDoc], testDoc) {},
		TTLStateInfo: 60 * time.Second,
		LockTime:     10 * time.Second,
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
}

func TestNewRequiresNameAndHandler(t *testing.T) {
	if _, err := New(Config[testDoc]{Handler: func(*Queue[testDoc], testDoc) {}, TTLStateInfo: time.Hour, LockTime: time.Second}); err == nil {
		t.Error("want error for missing Name, got nil")
	}
	if _, err := New(Config[testDoc]{Name: "q", TTLStateInfo: time.Hour, LockTime: time.Second}); err == nil {
		t.Error("want error for missing Handler, got nil")
	}
}

func TestPushAndGetStates(t *testing.T) {
	q := newTestQueue(t, func(*Queue[testDoc], testDoc) {})
	for i := 0; i < 3; i++ {
		if err := q.Push(testDoc{Num: i}); err != nil {
			t.Fatal(err)
		}
	}
	states, err := q.GetStates()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for range states {
		count++
	}
	if want, got := 3, count; want != got {
		t.Errorf("want %d, got %d", want, got)
	}
}
