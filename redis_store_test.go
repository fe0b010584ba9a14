//go:build integration

// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"io/ioutil"
	"log"
	"testing"
	"time"

	dispredis "github.com/EverythingMe/disposable-redis"
)

func fakeRedis() (*dispredis.Server, error) {
	log.SetOutput(ioutil.Discard)
	r, err := dispredis.NewServerRandomPort()
	if err != nil {
		return nil, err
	}
	if err := r.WaitReady(50 * time.Millisecond); err != nil {
		return nil, err
	}
	return r, nil
}

func newTestRedisStore(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	r, err := fakeRedis()
	if err != nil {
		t.Fatal(err)
	}
	st := NewRedisStore(r.Addr(), "", 0)
	return st, func() {
		st.Close()
		r.Stop()
	}
}

func TestRedisStoreSetEXGetTTL(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	pipe := st.NewPipeline()
	pipe.SetEX("k", time.Minute, "v")
	if err := pipe.Exec(); err != nil {
		t.Fatal(err)
	}
	v, ok, err := st.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "v" {
		t.Fatalf("want (\"v\", true), got (%q, %v)", v, ok)
	}
	ttl, err := st.TTL("k")
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 {
		t.Errorf("want positive ttl, got %d", ttl)
	}
	if ttl, err := st.TTL("missing"); err != nil || ttl != KeyMissingTTL {
		t.Errorf("want %d, got %d (err=%v)", KeyMissingTTL, ttl, err)
	}
}

func TestRedisStoreLPushBRPopLPush(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	pipe := st.NewPipeline()
	pipe.LPush("ready", "a")
	if err := pipe.Exec(); err != nil {
		t.Fatal(err)
	}
	v, ok, err := st.BRPopLPush("ready", "inflight", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "a" {
		t.Fatalf("want (\"a\", true), got (%q, %v)", v, ok)
	}
	n, err := st.LLen("inflight")
	if err != nil {
		t.Fatal(err)
	}
	if want, got := int64(1), n; want != got {
		t.Errorf("want %d, got %d", want, got)
	}
}

func TestRedisStoreBRPopLPushTimeout(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	_, ok, err := st.BRPopLPush("empty", "inflight", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("want timeout, got a value")
	}
}

func TestRedisStoreLRemLRange(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	pipe := st.NewPipeline()
	pipe.LPush("l", "a")
	pipe.LPush("l", "b")
	pipe.LPush("l", "c")
	if err := pipe.Exec(); err != nil {
		t.Fatal(err)
	}
	if err := st.LRem("l", 1, "b"); err != nil {
		t.Fatal(err)
	}
	values, err := st.LRange("l", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if want, got := 2, len(values); want != got {
		t.Fatalf("want %d, got %d (%v)", want, got, values)
	}
}

func TestRedisStorePipelineAppliesAllWrites(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	pipe := st.NewPipeline()
	pipe.SetEX("a", time.Minute, "1")
	pipe.SetEX("b", time.Minute, "2")
	if err := pipe.Exec(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get("a"); !ok {
		t.Error("want a present")
	}
	if _, ok, _ := st.Get("b"); !ok {
		t.Error("want b present")
	}
}

func TestRedisStorePublishSubscribe(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	sub, err := st.Subscribe("ch")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	pipe := st.NewPipeline()
	pipe.Publish("ch", "hello")
	if err := pipe.Exec(); err != nil {
		t.Fatal(err)
	}
	msg, err := sub.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if want, got := "hello", msg; want != got {
		t.Errorf("want %q, got %q", want, got)
	}
}

// TestRedisStoreQueueRoundTrip exercises redisq.Queue end to end against a
// real (disposable) Redis server, as a sanity check that RedisStore's
// primitives compose the way MemStore's do.
func TestRedisStoreQueueRoundTrip(t *testing.T) {
	st, done := newTestRedisStore(t)
	defer done()

	q, err := New(Config[testDoc]{
		Name:         "integration",
		Store:        st,
		Timeout:      200 * time.Millisecond,
		TTLStateInfo: 62 * time.Second,
		LockTime:     time.Second,
		Handler: func(q *Queue[testDoc], d testDoc) {
			_ = q.SetState(d.ID(), StateDone, "")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.StartConsumer(); err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	if err := q.PushAndWait(testDoc{Num: 1}, 5*time.Second); err != nil {
		t.Fatalf("PushAndWait: %v", err)
	}
}
