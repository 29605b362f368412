package progress

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-attachment-extractor/stats"
)

// Bar tracks extraction progress in messages. The bar advances a page at a
// time since the mailbox reports progress per fetch.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	written int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar when logLevel is "info". total is the number of
// messages expected to be processed; zero disables the bar but keeps the
// status lines.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info",
	}
	if !bar.enabled {
		return bar
	}

	pterm.Info.Printfln("Messages with attachments to process: %d", total)
	if total > 0 {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Extracting attachments").
			Start()
		bar.pb = pb
	}
	return bar
}

// Update applies a single event to the bar.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypePageFetched:
		if b.pb != nil {
			done := evt.StartIndex - 1
			if done > b.total {
				done = b.total
			}
			b.pb.Current = done
			b.pb.UpdateTitle(pterm.Sprintf("Fetching %d messages starting with %d", evt.PageSize, evt.StartIndex))
		} else {
			pterm.Info.Printfln("Fetching %d messages starting with %d", evt.PageSize, evt.StartIndex)
		}
	case stats.EventTypeWritten:
		b.written++
		if b.pb != nil && evt.StoredName != "" {
			b.pb.UpdateTitle("Stored: " + shorten(evt.StoredName, 40))
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printfln("Error: %v", evt.Err)
		}
	}
}

// shorten cuts s to at most limit bytes on a rune boundary, marking the cut.
func shorten(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Stop finalizes the bar and prints the stored count.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		if b.pb.Current < b.total {
			b.pb.Current = b.total
		}
		b.pb.Stop()
		b.pb = nil
	}
	pterm.Success.Printfln("Stored %d attachments", b.written)
}

// Written returns the number of write events seen so far.
func (b *Bar) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Subscriber consumes events until the stream closes, then stops the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}
