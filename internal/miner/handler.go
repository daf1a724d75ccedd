package miner

import "context"

// Handler receives one Record per qualifying line.
//
// line is the raw text the record was parsed from. Returning an error or
// panicking only skips the current line. Call RequestStop(ctx) to end the scan.
type Handler interface {
	ProcessRecord(ctx context.Context, rec *Record, line string) error
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, rec *Record, line string) error

// ProcessRecord calls the function.
func (f HandlerFunc) ProcessRecord(ctx context.Context, rec *Record, line string) error {
	return f(ctx, rec, line)
}
