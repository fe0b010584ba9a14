// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// MemStore is a mutex-guarded, in-process Store. It is used in tests and
// as the default Store so that New never requires a live Redis server to
// construct, mirroring the teacher's InMemoryStore "used in tests only"
// role but extended to model list semantics, TTL decay against a real
// clock, and an in-process pub/sub fan-out, since the queue's state
// machine depends on all three.
type MemStore struct {
	mu      sync.Mutex
	lists   map[string]*list.List
	strs    map[string]string
	expires map[string]time.Time
	subs    map[string][]*memSubscription
	now     func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		lists:   make(map[string]*list.List),
		strs:    make(map[string]string),
		expires: make(map[string]time.Time),
		subs:    make(map[string][]*memSubscription),
		now:     time.Now,
	}
}

func (s *MemStore) listFor(key string) *list.List {
	l, ok := s.lists[key]
	if !ok {
		l = list.New()
		s.lists[key] = l
	}
	return l
}

// expired reports whether key has a recorded expiry in the past. Callers
// must hold s.mu.
func (s *MemStore) expired(key string) bool {
	exp, ok := s.expires[key]
	return ok && !exp.After(s.now())
}

func (s *MemStore) evictIfExpired(key string) {
	if s.expired(key) {
		delete(s.strs, key)
		delete(s.expires, key)
	}
}

func (s *MemStore) setex(key string, ttl time.Duration, value string) {
	s.strs[key] = value
	s.expires[key] = s.now().Add(ttl)
}

func (s *MemStore) lpush(key, value string) {
	s.listFor(key).PushFront(value)
}

func (s *MemStore) rpush(key, value string) {
	s.listFor(key).PushBack(value)
}

// lrem is the lock-free core of LRem, callable both directly and from
// inside a pipeline's Exec, which already holds s.mu.
func (s *MemStore) lrem(key string, count int, value string) {
	l, ok := s.lists[key]
	if !ok {
		return
	}
	removed := 0
	for e := l.Front(); e != nil; {
		next := e.Next()
		if count != 0 && removed >= abs(count) {
			break
		}
		if e.Value.(string) == value {
			l.Remove(e)
			removed++
		}
		e = next
	}
}

func (s *MemStore) publish(channel, message string) {
	for _, sub := range s.subs[channel] {
		sub.deliver(message)
	}
}

func (s *MemStore) LRem(key string, count int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lrem(key, count, value)
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (s *MemStore) LRange(key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	values := make([]string, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		values = append(values, e.Value.(string))
	}
	n := int64(len(values))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	return values[start : stop+1], nil
}

func (s *MemStore) LLen(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[key]
	if !ok {
		return 0, nil
	}
	return int64(l.Len()), nil
}

func (s *MemStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfExpired(key)
	v, ok := s.strs[key]
	return v, ok, nil
}

func (s *MemStore) TTL(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfExpired(key)
	exp, ok := s.expires[key]
	if !ok {
		if _, present := s.strs[key]; present {
			return NoExpiryTTL, nil
		}
		return KeyMissingTTL, nil
	}
	remaining := exp.Sub(s.now())
	if remaining <= 0 {
		return KeyMissingTTL, nil
	}
	return int64(remaining / time.Second), nil
}

func (s *MemStore) Keys(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	globbed := strings.HasSuffix(pattern, "*")
	var out []string
	for k := range s.strs {
		if s.expired(k) {
			continue
		}
		if globbed && strings.HasPrefix(k, prefix) {
			out = append(out, k)
		} else if !globbed && k == pattern {
			out = append(out, k)
		}
	}
	return out, nil
}

// BRPopLPush blocks, polling at a short fixed interval, until an element
// appears at src or timeout elapses.
func (s *MemStore) BRPopLPush(src, dst string, timeout time.Duration) (string, bool, error) {
	deadline := s.now().Add(timeout)
	const pollInterval = 5 * time.Millisecond
	for {
		s.mu.Lock()
		l, ok := s.lists[src]
		if ok && l.Len() > 0 {
			e := l.Back()
			v := e.Value.(string)
			l.Remove(e)
			s.listFor(dst).PushFront(v)
			s.mu.Unlock()
			return v, true, nil
		}
		s.mu.Unlock()
		if s.now().After(deadline) {
			return "", false, nil
		}
		time.Sleep(pollInterval)
	}
}

func (s *MemStore) Subscribe(channel string) (Subscription, error) {
	sub := &memSubscription{
		store:   s,
		channel: channel,
		msgs:    make(chan string, 16),
		closed:  make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *MemStore) unsubscribe(sub *memSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[sub.channel]
	for i, other := range subs {
		if other == sub {
			s.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) NewPipeline() Pipeline {
	return &memPipeline{store: s}
}

// memPipeline defers every write until Exec, matching the Store contract's
// all-or-nothing semantics for the (non-blocking) writes it carries; since
// MemStore never fails a write, Exec always succeeds.
type memPipeline struct {
	store *MemStore
	ops   []func()
}

func (p *memPipeline) SetEX(key string, ttl time.Duration, value string) Pipeline {
	p.ops = append(p.ops, func() { p.store.setex(key, ttl, value) })
	return p
}

func (p *memPipeline) LPush(key, value string) Pipeline {
	p.ops = append(p.ops, func() { p.store.lpush(key, value) })
	return p
}

func (p *memPipeline) RPush(key, value string) Pipeline {
	p.ops = append(p.ops, func() { p.store.rpush(key, value) })
	return p
}

func (p *memPipeline) LRem(key string, count int, value string) Pipeline {
	p.ops = append(p.ops, func() { p.store.lrem(key, count, value) })
	return p
}

func (p *memPipeline) Publish(channel, message string) Pipeline {
	p.ops = append(p.ops, func() { p.store.publish(channel, message) })
	return p
}

func (p *memPipeline) Exec() error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		op()
	}
	return nil
}

// memSubscription fans out publishes from a MemStore channel to one
// subscriber's buffered queue.
type memSubscription struct {
	store   *MemStore
	channel string
	msgs    chan string
	closed  chan struct{}
	once    sync.Once
}

func (sub *memSubscription) deliver(message string) {
	select {
	case sub.msgs <- message:
	case <-sub.closed:
	}
}

func (sub *memSubscription) Receive() (string, error) {
	select {
	case m := <-sub.msgs:
		return m, nil
	case <-sub.closed:
		return "", errSubscriptionClosed
	}
}

func (sub *memSubscription) Close() error {
	sub.once.Do(func() {
		close(sub.closed)
		sub.store.unsubscribe(sub)
	})
	return nil
}
