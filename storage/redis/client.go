// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package redis implements the coordination store on top of redis,
// with tree-structured keys delimited by '/'.
package redis

import (
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis"
	"github.com/zeebo/errs"

	"github.com/crowdtiles/crowdtiles/storage"
)

// Error is the errs class for redis coordination store errors.
var Error = errs.Class("redis error")

const (
	defaultRetries  = 4
	defaultInterval = 100 * time.Millisecond

	// scanBatch is how many keys a single SCAN round trip may return.
	scanBatch = 1000
)

// Client is the entrypoint into the redis coordination store.
type Client struct {
	db *redis.Client
}

// NewClient returns a configured Client instance, verifying a successful
// connection to redis.
func NewClient(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}
	if err := client.db.Ping().Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}
	return client, nil
}

// NewClientFrom returns a configured Client instance from a redis address
// of the form redis://[:password@]host:port[?db=n].
func NewClientFrom(address string) (*Client, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if u.Scheme != "redis" {
		return nil, Error.New("unsupported scheme %q", u.Scheme)
	}
	db := 0
	if q := u.Query().Get("db"); q != "" {
		db, err = strconv.Atoi(q)
		if err != nil {
			return nil, Error.New("invalid db %q", q)
		}
	}
	password, _ := u.User.Password()
	return NewClient(u.Host, password, db)
}

// retry runs op with bounded exponential backoff. Transient network and
// rate-limit failures are the norm for the coordination store, not the
// exception.
func retry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultInterval
	return backoff.Retry(func() error {
		err := op()
		if err == nil || err == redis.Nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(bo, defaultRetries))
}

// Put adds a value to the provided key.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	err := retry(func() error {
		return client.db.Set(key.String(), []byte(value), 0).Err()
	})
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// Get returns the value for a key, or storage.ErrKeyNotFound.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	var out []byte
	err := retry(func() error {
		var err error
		out, err = client.db.Get(key.String()).Bytes()
		return err
	})
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound.New("%s", key)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}
	return out, nil
}

// GetAll returns the values for the provided keys, in the same order.
func (client *Client) GetAll(keys storage.Keys) (storage.Values, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var results []interface{}
	err := retry(func() error {
		var err error
		results, err = client.db.MGet(keys.Strings()...).Result()
		return err
	})
	if err != nil {
		return nil, Error.New("get all error: %v", err)
	}
	values := make(storage.Values, 0, len(keys))
	for i, result := range results {
		if result == nil {
			return nil, storage.ErrKeyNotFound.New("%s", keys[i])
		}
		s, ok := result.(string)
		if !ok {
			return nil, Error.New("unexpected type %T for %s", result, keys[i])
		}
		values = append(values, storage.Value(s))
	}
	return values, nil
}

// List returns every key below the given prefix, in sorted order. Only the
// keys travel over the wire, which makes existence and count checks cheap.
func (client *Client) List(prefix storage.Key) (storage.Keys, error) {
	var keys storage.Keys
	err := retry(func() error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, err := client.db.Scan(cursor, prefix.String()+"*", scanBatch).Result()
			if err != nil {
				return err
			}
			for _, k := range batch {
				keys = append(keys, storage.Key(k))
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, Error.New("list error: %v", err)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

// Delete removes the given key and its value.
func (client *Client) Delete(key storage.Key) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	var deleted int64
	err := retry(func() error {
		var err error
		deleted, err = client.db.Del(key.String()).Result()
		return err
	})
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	if deleted == 0 {
		return storage.ErrKeyNotFound.New("%s", key)
	}
	return nil
}

// DeletePrefix removes every key below the given prefix.
func (client *Client) DeletePrefix(prefix storage.Key) error {
	keys, err := client.List(prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	err = retry(func() error {
		return client.db.Del(keys.Strings()...).Err()
	})
	if err != nil {
		return Error.New("delete prefix error: %v", err)
	}
	return nil
}

// Close closes the redis connection.
func (client *Client) Close() error {
	return client.db.Close()
}
