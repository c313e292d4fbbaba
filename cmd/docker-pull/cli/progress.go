package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/meigma/dockerpull"
)

// progressMode normalizes the configured progress mode to "auto", "tty", or "plain".
func progressMode(mode string) string {
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress returns true if progress bars should be displayed.
func shouldShowProgress(mode string) bool {
	switch progressMode(mode) {
	case "plain":
		return false
	case "tty":
		// TTY mode forces progress regardless of terminal detection
		return true
	default:
		// Auto mode: show progress only if connected to a TTY
		return term.IsTerminal(int(os.Stderr.Fd()))
	}
}

// newProgressBar creates a new progress bar for one layer download.
func newProgressBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionClearOnFinish(),
	)
}

// newPullProgress creates a progress callback for pull operations.
// Status lines go to out; bars, when shown, go to stderr.
// The finish function must be called when the pull returns.
func newPullProgress(mode string, out io.Writer) (callback dockerpull.ProgressCallback, finish func()) {
	if shouldShowProgress(mode) {
		return newBarProgress(os.Stderr, out)
	}
	return newLineProgress(out), func() {}
}

// newLineProgress prints one line when a layer starts and one when it is on
// disk.
func newLineProgress(out io.Writer) dockerpull.ProgressCallback {
	return func(event dockerpull.ProgressEvent) {
		switch event.Kind {
		case dockerpull.LayerStarted:
			fmt.Fprintf(out, "%s: Downloading...\n", dockerpull.ShortDigest(event.Digest))
		case dockerpull.LayerCompleted:
			fmt.Fprintln(out, completeLine(event))
		}
	}
}

// newBarProgress draws a bar per layer in flight and replaces it with the
// completion line once the layer is done.
func newBarProgress(barOut, out io.Writer) (callback dockerpull.ProgressCallback, finish func()) {
	bars := make(map[digest.Digest]*progressbar.ProgressBar)

	// Callbacks are serialized by the client, so bars needs no lock.
	callback = func(event dockerpull.ProgressEvent) {
		switch event.Kind {
		case dockerpull.LayerStarted:
			bars[event.Digest] = newProgressBar(barOut, event.Total, dockerpull.ShortDigest(event.Digest)+": Downloading")
		case dockerpull.LayerProgress:
			if bar := bars[event.Digest]; bar != nil {
				//nolint:errcheck // progress bar errors are not critical
				bar.Set64(event.Bytes)
			}
		case dockerpull.LayerCompleted:
			if bar := bars[event.Digest]; bar != nil {
				//nolint:errcheck // progress bar errors are not critical
				bar.Finish()
				delete(bars, event.Digest)
			}
			fmt.Fprintln(out, completeLine(event))
		case dockerpull.LayerFailed:
			if bar := bars[event.Digest]; bar != nil {
				//nolint:errcheck // progress bar errors are not critical
				bar.Exit()
				delete(bars, event.Digest)
			}
		}
	}

	finish = func() {
		for d, bar := range bars {
			//nolint:errcheck // progress bar errors are not critical
			bar.Exit()
			delete(bars, d)
		}
	}

	return callback, finish
}

// completeLine reports a finished layer with its downloaded size.
func completeLine(event dockerpull.ProgressEvent) string {
	return fmt.Sprintf("%s: Pull complete [%s]", dockerpull.ShortDigest(event.Digest), humanize.Bytes(uint64(event.Bytes)))
}
