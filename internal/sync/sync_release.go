//go:build !deadlock

// Package sync provides the lock types used by the hub and brokers. Building
// with -tags deadlock swaps them for go-deadlock to report lock-order
// inversions and long waits.
package sync

import "sync"

// Mutex is the standard sync.Mutex.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether go-deadlock is active.
func DetectionEnabled() bool { return false }
