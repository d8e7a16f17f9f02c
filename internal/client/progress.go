package client

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// NewTerminalProgress returns a ProgressFunc that renders a progress
// bar to out when out is a terminal, and a plain periodic line
// otherwise (redirected output, CI logs). desc labels the bar, e.g.
// the filename being transferred.
func NewTerminalProgress(out *os.File, desc string, total uint64) ProgressFunc {
	if !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()) {
		return plainProgress(out, desc, total)
	}

	width := 40
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 20 {
		width = w - 30
	}

	bar := progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(colorable.NewColorable(out)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(width),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var last uint64
	return func(transferred, total uint64) {
		_ = bar.Add64(int64(transferred - last))
		last = transferred
		if transferred >= total {
			_ = bar.Close()
		}
	}
}

// plainProgress logs a humanized "x of y" line at most once per
// second, for non-TTY destinations where a carriage-return bar would
// just spam the log.
func plainProgress(out io.Writer, desc string, total uint64) ProgressFunc {
	var lastLog time.Time
	return func(transferred, total64 uint64) {
		if time.Since(lastLog) < time.Second && transferred < total64 {
			return
		}
		lastLog = time.Now()
		fmt.Fprintf(out, "%s: %s / %s\n", desc, humanize.Bytes(transferred), humanize.Bytes(total))
	}
}
