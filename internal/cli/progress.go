package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progressReporter renders miner progress as a byte progress bar.
type progressReporter struct {
	quiet bool
	out   io.Writer
	desc  string
	bar   *progressbar.ProgressBar
}

func newProgressReporter(quiet bool, out io.Writer, desc string) *progressReporter {
	return &progressReporter{quiet: quiet, out: out, desc: desc}
}

// Update is a miner.ProgressCallback. The bar is created on first use so its
// size matches the dump.
func (p *progressReporter) Update(lines int, bytesRead, totalBytes int64) {
	if p.quiet {
		return
	}
	if p.bar == nil {
		max := totalBytes
		if max <= 0 {
			max = -1
		}
		p.bar = progressbar.NewOptions64(max,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(p.desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.out)
			}),
		)
	}
	_ = p.bar.Set64(bytesRead)
}

// Finish completes the bar, if one was shown.
func (p *progressReporter) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
