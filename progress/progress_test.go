package progress

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dhcgn/mail-attachment-extractor/stats"
)

func TestBar_DisabledCountsNothing(t *testing.T) {
	bar := New(10, "debug")
	bar.Update(stats.Event{Type: stats.EventTypeWritten, StoredName: "a.pdf"})
	bar.Stop()
	if got := bar.Written(); got != 0 {
		t.Errorf("Written() = %d, want 0 for disabled bar", got)
	}
}

func TestBar_SubscriberCountsWrites(t *testing.T) {
	bar := New(0, "info")
	events := make(chan stats.Event, 4)
	events <- stats.Event{Type: stats.EventTypePageFetched, StartIndex: 1, PageSize: 10}
	events <- stats.Event{Type: stats.EventTypeWritten, StoredName: "Q1 - report.pdf"}
	events <- stats.Event{Type: stats.EventTypeWritten, StoredName: "Q2 - report.pdf"}
	close(events)

	if err := bar.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}
	if got := bar.Written(); got != 2 {
		t.Errorf("Written() = %d, want 2", got)
	}
}

func TestBar_PageAdvancesCurrent(t *testing.T) {
	bar := New(25, "info")
	defer bar.Stop()

	bar.Update(stats.Event{Type: stats.EventTypePageFetched, StartIndex: 11, PageSize: 10})
	if bar.pb == nil {
		t.Fatal("expected progress bar for non-zero total")
	}
	if bar.pb.Current != 10 {
		t.Errorf("Current = %d, want 10", bar.pb.Current)
	}

	bar.Update(stats.Event{Type: stats.EventTypePageFetched, StartIndex: 41, PageSize: 10})
	if bar.pb.Current != 25 {
		t.Errorf("Current = %d, want clamp to 25", bar.pb.Current)
	}
}

func TestShorten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "report.pdf", max: 40, want: "report.pdf"},
		{name: "ascii", in: strings.Repeat("a", 50), max: 40, want: strings.Repeat("a", 37) + "..."},
		{name: "multibyte boundary", in: "Résumé – 履歴書 履歴書 履歴書 履歴書.pdf", max: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shorten(tt.in, tt.max)
			if !utf8.ValidString(got) {
				t.Fatalf("shorten() = %q is not valid UTF-8", got)
			}
			if len(got) > tt.max {
				t.Errorf("len(shorten()) = %d, want <= %d", len(got), tt.max)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("shorten() = %q, want %q", got, tt.want)
			}
		})
	}
}
