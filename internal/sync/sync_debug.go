//go:build deadlock

// Package sync provides the lock types used by the hub and brokers. Building
// with -tags deadlock swaps them for go-deadlock to report lock-order
// inversions and long waits.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// Mutex reports potential deadlocks.
type Mutex = deadlock.Mutex

// RWMutex reports potential deadlocks.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether go-deadlock is active.
func DetectionEnabled() bool { return !deadlock.Opts.Disable }

func init() {
	deadlock.Opts.DeadlockTimeout = 30 * time.Second

	if os.Getenv("TASKPULSE_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}
	deadlock.Opts.PrintAllCurrentGoroutines = true

	log.Warn().Dur("timeout", deadlock.Opts.DeadlockTimeout).Msg("deadlock detection enabled")
}
