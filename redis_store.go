// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisq

import (
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
)

// RedisStore backs Store with a pool of redigo connections. One
// connection is acquired per call and returned to the pool on every exit
// path; a pipeline holds its connection from NewPipeline until Exec, and
// a subscription holds a dedicated connection for its whole lifetime.
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisStore dials server (host:port), authenticating with password if
// non-empty and selecting db, and returns a Store backed by a connection
// pool with the same defaults the rest of this package's tooling uses.
func NewRedisStore(server, password string, db int) *RedisStore {
	return NewRedisStoreFromPool(newPool(server, password, db))
}

// NewRedisStoreFromPool builds a Store around an already-configured
// redigo pool, for callers that need custom dial options, TLS, or a
// Sentinel-aware pool.
func NewRedisStoreFromPool(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool}
}

func newPool(server, password string, db int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", server)
			if err != nil {
				return nil, err
			}
			if password != "" {
				if _, err := c.Do("AUTH", password); err != nil {
					c.Close()
					return nil, err
				}
			}
			if _, err := c.Do("SELECT", db); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

func (r *RedisStore) LRem(key string, count int, value string) error {
	c := r.pool.Get()
	defer c.Close()
	_, err := c.Do("LREM", key, count, value)
	return err
}

func (r *RedisStore) LRange(key string, start, stop int64) ([]string, error) {
	c := r.pool.Get()
	defer c.Close()
	return redis.Strings(c.Do("LRANGE", key, start, stop))
}

func (r *RedisStore) LLen(key string) (int64, error) {
	c := r.pool.Get()
	defer c.Close()
	return redis.Int64(c.Do("LLEN", key))
}

func (r *RedisStore) Get(key string) (string, bool, error) {
	c := r.pool.Get()
	defer c.Close()
	v, err := redis.String(c.Do("GET", key))
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) TTL(key string) (int64, error) {
	c := r.pool.Get()
	defer c.Close()
	return redis.Int64(c.Do("TTL", key))
}

func (r *RedisStore) Keys(pattern string) ([]string, error) {
	c := r.pool.Get()
	defer c.Close()
	return redis.Strings(c.Do("KEYS", pattern))
}

func (r *RedisStore) BRPopLPush(src, dst string, timeout time.Duration) (string, bool, error) {
	c := r.pool.Get()
	defer c.Close()
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	v, err := redis.String(c.Do("BRPOPLPUSH", src, dst, seconds))
	if err == redis.ErrNil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Close() error {
	return r.pool.Close()
}

// redisPipeline batches writes using MULTI/EXEC, the same pattern the
// store layer's original Enqueue used for its atomic SET+ZADD pair.
type redisPipeline struct {
	conn redis.Conn
	err  error
}

func (r *RedisStore) NewPipeline() Pipeline {
	c := r.pool.Get()
	if err := c.Send("MULTI"); err != nil {
		return &redisPipeline{conn: c, err: err}
	}
	return &redisPipeline{conn: c}
}

func (p *redisPipeline) SetEX(key string, ttl time.Duration, value string) Pipeline {
	if p.err != nil {
		return p
	}
	p.err = p.conn.Send("SETEX", key, int(ttl/time.Second), value)
	return p
}

func (p *redisPipeline) LPush(key, value string) Pipeline {
	if p.err != nil {
		return p
	}
	p.err = p.conn.Send("LPUSH", key, value)
	return p
}

func (p *redisPipeline) RPush(key, value string) Pipeline {
	if p.err != nil {
		return p
	}
	p.err = p.conn.Send("RPUSH", key, value)
	return p
}

func (p *redisPipeline) LRem(key string, count int, value string) Pipeline {
	if p.err != nil {
		return p
	}
	p.err = p.conn.Send("LREM", key, count, value)
	return p
}

func (p *redisPipeline) Publish(channel, message string) Pipeline {
	if p.err != nil {
		return p
	}
	p.err = p.conn.Send("PUBLISH", channel, message)
	return p
}

func (p *redisPipeline) Exec() error {
	defer p.conn.Close()
	if p.err != nil {
		p.conn.Do("DISCARD")
		return p.err
	}
	_, err := p.conn.Do("EXEC")
	if err != nil {
		return fmt.Errorf("redisq: pipeline exec: %w", err)
	}
	return nil
}

// redisSubscription owns a dedicated connection for the lifetime of a
// single-channel subscription, matching the concurrency model's exception
// for the state-wait primitive.
type redisSubscription struct {
	conn    redis.Conn
	psc     redis.PubSubConn
	channel string
}

func (r *RedisStore) Subscribe(channel string) (Subscription, error) {
	c := r.pool.Get()
	psc := redis.PubSubConn{Conn: c}
	if err := psc.Subscribe(channel); err != nil {
		c.Close()
		return nil, err
	}
	// Drain the subscription confirmation so the caller's catch-up read
	// is guaranteed to happen after the subscription is actually active.
	for {
		switch v := psc.Receive().(type) {
		case redis.Subscription:
			return &redisSubscription{conn: c, psc: psc, channel: channel}, nil
		case error:
			c.Close()
			return nil, v
		}
	}
}

func (s *redisSubscription) Receive() (string, error) {
	for {
		switch v := s.psc.Receive().(type) {
		case redis.Message:
			return string(v.Data), nil
		case redis.Subscription:
			continue
		case error:
			return "", v
		}
	}
}

func (s *redisSubscription) Close() error {
	s.psc.Unsubscribe(s.channel)
	return s.conn.Close()
}
