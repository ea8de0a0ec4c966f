// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package redisserver starts a redis server for tests: a real redis-server
// process when one is installed, miniredis otherwise.
package redisserver

import (
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
)

const startupTimeout = 3 * time.Second

func freeport() (addr string, port int, err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = listener.Close() }()

	tcp := listener.Addr().(*net.TCPAddr)
	return tcp.String(), tcp.Port, nil
}

// Start prefers a real redis-server process and falls back to miniredis
// when the binary is missing or fails to come up.
func Start() (addr string, cleanup func(), err error) {
	addr, cleanup, err = Process()
	if err == nil {
		return addr, cleanup, nil
	}
	return Mini()
}

// Process spawns a redis-server child configured for testing.
func Process() (addr string, cleanup func(), err error) {
	tmpdir, err := os.MkdirTemp("", "crowdtiles-redis")
	if err != nil {
		return "", nil, err
	}

	addr, port, err := freeport()
	if err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, err
	}

	// redis only takes its settings through a config file
	conf := strings.Join([]string{
		"daemonize no",
		"port " + strconv.Itoa(port),
		"timeout 0",
		"databases 2",
		"dbfilename dump.rdb",
		"dir " + tmpdir,
	}, "\n") + "\n"

	confpath := filepath.Join(tmpdir, "test.conf")
	if err := os.WriteFile(confpath, []byte(conf), 0644); err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, err
	}

	cmd := exec.Command("redis-server", confpath)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, err
	}

	cleanup = func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = os.RemoveAll(tmpdir)
	}

	// poll until the server answers PING or the deadline passes
	deadline := time.Now().Add(startupTimeout)
	for !pingServer(addr) {
		if time.Now().After(deadline) {
			cleanup()
			return "", nil, errors.New("redis-server not ready in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr, cleanup, nil
}

func pingServer(addr string) bool {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer func() { _ = client.Close() }()
	return client.Ping().Err() == nil
}

// Mini starts an in-process miniredis server.
func Mini() (addr string, cleanup func(), err error) {
	server, err := miniredis.Run()
	if err != nil {
		return "", nil, err
	}
	return server.Addr(), func() { server.Close() }, nil
}
