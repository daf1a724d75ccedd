package miner

import (
	"context"
	"sync/atomic"
)

// StopFlag is a one-way switch that halts every scan observing it.
// It is never cleared by the engine.
type StopFlag struct {
	stopped atomic.Bool
}

// NewStopFlag returns a cleared flag for an isolated scan.
func NewStopFlag() *StopFlag {
	return &StopFlag{}
}

// Stop sets the flag.
func (f *StopFlag) Stop() { f.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (f *StopFlag) Stopped() bool { return f.stopped.Load() }

// Reset clears the flag so it can gate a new run.
func (f *StopFlag) Reset() { f.stopped.Store(false) }

// DefaultStopFlag is shared by every Miner created without WithStopFlag.
var DefaultStopFlag = NewStopFlag()

// StopMining halts all scans using DefaultStopFlag, including ones running in
// other goroutines.
func StopMining() {
	DefaultStopFlag.Stop()
}

type stopFlagKey struct{}

func withStopFlag(ctx context.Context, f *StopFlag) context.Context {
	return context.WithValue(ctx, stopFlagKey{}, f)
}

// StopFlagFrom returns the flag of the scan that dispatched ctx, if any.
func StopFlagFrom(ctx context.Context) (*StopFlag, bool) {
	f, ok := ctx.Value(stopFlagKey{}).(*StopFlag)
	return f, ok && f != nil
}

// RequestStop asks the scan that invoked the current handler to stop after
// the current record. Outside of a dispatch it sets DefaultStopFlag.
func RequestStop(ctx context.Context) {
	if f, ok := StopFlagFrom(ctx); ok {
		f.Stop()
		return
	}
	StopMining()
}
