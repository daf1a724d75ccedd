// Package handlers holds the record callbacks bundled with sominer.
package handlers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/sink"
)

// Titles writes "id: title" for every record that has a title.
func Titles(w io.Writer) miner.Handler {
	return miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		title := rec.Title()
		if title == "" {
			return nil
		}
		_, err := fmt.Fprintf(w, "%d: %s\n", rec.ID(), title)
		return err
	})
}

// Export converts each record to a Post and writes it to s.
func Export(s sink.Sink) miner.Handler {
	return miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		return s.Write(ctx, miner.ToPost(rec))
	})
}

// Limit forwards at most n records to h and then asks the scan to stop.
// n <= 0 disables the limit.
func Limit(n int, h miner.Handler) miner.Handler {
	if n <= 0 {
		return h
	}
	seen := 0
	return miner.HandlerFunc(func(ctx context.Context, rec *miner.Record, line string) error {
		if seen >= n {
			miner.RequestStop(ctx)
			return nil
		}
		seen++
		err := h.ProcessRecord(ctx, rec, line)
		if seen == n {
			miner.RequestStop(ctx)
		}
		return err
	})
}

// Factory builds a named handler writing demo output to w.
type Factory func(w io.Writer) (miner.Handler, error)

var factories = map[string]Factory{
	"titles": func(w io.Writer) (miner.Handler, error) {
		return Titles(w), nil
	},
	"snippets": func(w io.Writer) (miner.Handler, error) {
		return NewSnippetStats(), nil
	},
	"count": func(w io.Writer) (miner.Handler, error) {
		return miner.HandlerFunc(func(context.Context, *miner.Record, string) error { return nil }), nil
	},
}

// ByName returns the bundled handler called name.
func ByName(name string, w io.Writer) (miner.Handler, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown handler %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return f(w)
}

// Names lists the bundled handler names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
