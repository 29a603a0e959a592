// Copyright 2025 James Ross
package service

import (
	"errors"
	"sync"
)

// ErrNotInitialized is returned by Current when called before Initialize
// or after Terminate.
var ErrNotInitialized = errors.New("service: accessed before initialize or after terminate")

var (
	holderMu sync.RWMutex
	holder   *Service
)

// Initialize installs svc as the process-wide instance. Call sites without
// request-scoped injection (background handlers) use Current to reach it.
// Prefer passing the Service explicitly where practical; this exists for
// the cases that can't.
func Initialize(svc *Service) {
	holderMu.Lock()
	defer holderMu.Unlock()
	holder = svc
}

// Current returns the process-wide Service, or ErrNotInitialized if
// Initialize hasn't run yet or Terminate already has.
func Current() (*Service, error) {
	holderMu.RLock()
	defer holderMu.RUnlock()
	if holder == nil {
		return nil, ErrNotInitialized
	}
	return holder, nil
}

// Terminate clears the process-wide instance, making subsequent Current
// calls fail until the next Initialize.
func Terminate() {
	holderMu.Lock()
	defer holderMu.Unlock()
	holder = nil
}
