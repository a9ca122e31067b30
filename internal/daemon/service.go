// Package daemon runs the long-lived parts of the process together: the
// scan scheduler and the HTTP endpoint serving health and metrics.
package daemon

import (
	"context"
	"errors"
	"sync"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("service already started")

// Component is a background part of the daemon.
type Component interface {
	Start(ctx context.Context) error
	Close()
}

// Service is the daemon lifecycle.
type Service interface {
	// Start starts the scheduler, then the HTTP server. If the server fails
	// to start, the scheduler is closed again.
	//
	// Returns ErrServiceAlreadyStarted if Start is called more than once.
	Start(ctx context.Context) error

	// Close stops the HTTP server, then drains the scheduler. It is safe to
	// call Close even if the service was never started.
	Close()
}

type closeFunc func()

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc

	scheduler Component
	server    Component
}

var _ Service = (*service)(nil)

// New wires the scheduler with the HTTP server.
func New(scheduler, server Component) *service {
	return &service{
		scheduler: scheduler,
		server:    server,
	}
}

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}

	if err := s.server.Start(ctx); err != nil {
		s.scheduler.Close()
		return err
	}

	s.closeFunc = func() {
		s.server.Close()
		s.scheduler.Close()
	}
	s.isStarted = true
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	s.closeFunc = nil
	s.isStarted = false
}
