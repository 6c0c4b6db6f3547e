// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package testredis starts an in-process miniredis server for tests.
package testredis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// Server is a redis server usable from tests.
type Server struct {
	mini *miniredis.Miniredis
}

// Start starts an in-process redis server and registers cleanup with the test.
func Start(t *testing.T) *Server {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	return &Server{mini: mini}
}

// Addr returns the host:port of the server.
func (server *Server) Addr() string { return server.mini.Addr() }

// URL returns a redis:// address for the server.
func (server *Server) URL() string { return "redis://" + server.mini.Addr() + "?db=0" }

// FastForward advances the server clock, firing TTL expirations.
func (server *Server) FastForward(d time.Duration) { server.mini.FastForward(d) }
