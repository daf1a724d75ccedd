package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/so-miner/backend/internal/filter"
	"github.com/so-miner/backend/internal/handlers"
	"github.com/so-miner/backend/internal/miner"
)

// maxSummaryErrors is how many line errors the summary prints.
const maxSummaryErrors = 5

// mineRun is one command line scan.
type mineRun struct {
	path          string
	handler       miner.Handler
	rules         *filter.Filter
	limit         int
	opts          []miner.Option
	progressEvery int
	quiet         bool
	stderr        io.Writer
}

// mineDump scans r.path until the end of the dump, the limit, or an
// interrupt. SIGINT and SIGTERM stop the scan after the current record.
func mineDump(ctx context.Context, r mineRun) (*miner.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	h := r.handler
	if r.rules != nil {
		h = r.rules.Wrap(h)
	}
	h = handlers.Limit(r.limit, h)

	flag := miner.NewStopFlag()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(r.stderr, "\nInterrupted! Stopping after the current record...")
			flag.Stop()
		case <-done:
		}
	}()

	logOut := r.stderr
	if r.quiet {
		logOut = io.Discard
	}
	progress := newProgressReporter(r.quiet, r.stderr, "Mining "+r.path)

	opts := slices.Clone(r.opts)
	opts = append(opts,
		miner.WithStopFlag(flag),
		miner.WithLogger(log.New(logOut, "[Miner] ", log.LstdFlags)),
	)
	if !r.quiet {
		opts = append(opts, miner.WithProgress(r.progressEvery, progress.Update))
	}

	sess, err := miner.New(h, opts...).Mine(ctx, r.path)
	progress.Finish()
	return sess, err
}

// printSummary writes the scan counters and the first line errors.
func printSummary(w io.Writer, s *miner.Session) {
	elapsed := s.Finished.Sub(s.Started).Round(time.Millisecond)
	fmt.Fprintf(w, "✓ %s: %s in %s\n", s.Path, s.Status, elapsed)
	fmt.Fprintf(w, "  Lines:      %d\n", s.Lines)
	fmt.Fprintf(w, "  Candidates: %d\n", s.Candidates)
	fmt.Fprintf(w, "  Records:    %d\n", s.Dispatched)
	fmt.Fprintf(w, "  Errors:     %d\n", s.ErrorCount)
	for i, e := range s.Errors {
		if i == maxSummaryErrors {
			fmt.Fprintf(w, "    ... %d more\n", s.ErrorCount-maxSummaryErrors)
			break
		}
		fmt.Fprintf(w, "    line %d: %s\n", e.Line, e.Reason)
	}
}
