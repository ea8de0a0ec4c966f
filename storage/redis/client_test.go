// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdtiles/crowdtiles/storage"
	"github.com/crowdtiles/crowdtiles/storage/redis/redisserver"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr, cleanup, err := redisserver.Start()
	require.NoError(t, err)
	t.Cleanup(cleanup)

	client, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPutGetDelete(t *testing.T) {
	client := newTestClient(t)

	key := storage.Key("v2/projects/1001")
	value := storage.Value(`{"projectId":"1001"}`)

	require.NoError(t, client.Put(key, value))

	got, err := client.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, client.Delete(key))

	_, err = client.Get(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	err = client.Delete(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err))
}

func TestListPrefixSorted(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.Put(storage.Key("v2/groups/1001/102"), storage.Value("b")))
	require.NoError(t, client.Put(storage.Key("v2/groups/1001/100"), storage.Value("a")))
	require.NoError(t, client.Put(storage.Key("v2/groups/1001/101"), storage.Value("c")))
	require.NoError(t, client.Put(storage.Key("v2/groups/2002/100"), storage.Value("d")))

	keys, err := client.List(storage.Key("v2/groups/1001/"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"v2/groups/1001/100",
		"v2/groups/1001/101",
		"v2/groups/1001/102",
	}, keys.Strings())
}

func TestGetAllPreservesOrder(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.Put(storage.Key("a"), storage.Value("1")))
	require.NoError(t, client.Put(storage.Key("b"), storage.Value("2")))

	values, err := client.GetAll(storage.Keys{storage.Key("b"), storage.Key("a")})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "2", string(values[0]))
	assert.Equal(t, "1", string(values[1]))

	_, err = client.GetAll(storage.Keys{storage.Key("a"), storage.Key("missing")})
	assert.True(t, storage.ErrKeyNotFound.Has(err))
}

func TestDeletePrefix(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.Put(storage.Key("v2/results/1001/18-1-1/u1"), storage.Value("x")))
	require.NoError(t, client.Put(storage.Key("v2/results/1001/18-1-2/u1"), storage.Value("y")))
	require.NoError(t, client.Put(storage.Key("v2/projects/1001"), storage.Value("p")))

	require.NoError(t, client.DeletePrefix(storage.Key("v2/results/1001/")))

	keys, err := client.List(storage.Key("v2/results/"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = client.Get(storage.Key("v2/projects/1001"))
	assert.NoError(t, err)
}
