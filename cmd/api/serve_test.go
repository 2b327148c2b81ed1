package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer blocks in ListenAndServe until Shutdown is called.
type fakeServer struct {
	listenErr error
	closed    chan struct{}
}

func newFakeServer() *fakeServer { return &fakeServer{closed: make(chan struct{})} }

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.closed
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	close(s.closed)
	return nil
}

// slowStopper holds Stop open until release is closed.
type slowStopper struct {
	started chan struct{}
	release chan struct{}
	stopped atomic.Bool
}

func (s *slowStopper) Stop(context.Context) error {
	close(s.started)
	<-s.release
	s.stopped.Store(true)
	return nil
}

func TestServe_WaitsForWorkersToStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	workers := &slowStopper{started: make(chan struct{}), release: make(chan struct{})}

	returned := make(chan error, 1)
	go func() { returned <- serve(ctx, newFakeServer(), workers, time.Second) }()

	cancel()
	select {
	case <-workers.started:
	case <-time.After(2 * time.Second):
		t.Fatal("workers were never stopped")
	}

	select {
	case <-returned:
		t.Fatal("serve returned while workers were still stopping")
	case <-time.After(50 * time.Millisecond):
	}

	close(workers.release)
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after workers stopped")
	}
	if !workers.stopped.Load() {
		t.Error("serve returned before Stop completed")
	}
}

func TestServe_ListenError(t *testing.T) {
	srv := newFakeServer()
	srv.listenErr = errors.New("address already in use")
	workers := &slowStopper{started: make(chan struct{}), release: make(chan struct{})}

	err := serve(context.Background(), srv, workers, time.Second)
	if err == nil || err.Error() != "address already in use" {
		t.Errorf("expected listen error, got %v", err)
	}
}
