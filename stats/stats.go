package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Source names the mailbox a run reads from.
type Source string

const (
	SourceIMAP Source = "imap"
	SourceMbox Source = "mbox"
)

type EventType string

const (
	EventTypePageFetched EventType = "page_fetched"
	EventTypeWritten     EventType = "written"
	EventTypeError       EventType = "error"
)

type Event struct {
	Source     Source
	Type       EventType
	MessageID  string
	StoredName string
	StartIndex int
	PageSize   int
	Err        error
	Detail     string
}

type Summary struct {
	Pages     int
	Written   int
	Errors    int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"pages", s.Pages,
		"written", s.Written,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypePageFetched:
		c.summary.Pages++
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector   *Collector
	logger      *slog.Logger
	metricsPath string
	started     time.Time
}

// NewReporter subscribes a summary collector to stream. When metricsPath is
// set the final summary is also written there as a Prometheus textfile.
func NewReporter(stream EventStream, logger *slog.Logger, metricsPath string) *Reporter {
	reporter := &Reporter{
		collector:   NewCollector(),
		logger:      logger,
		metricsPath: metricsPath,
		started:     time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	duration := time.Since(r.started)
	attrs := append(summary.LogAttrs(), "duration", duration)

	if r.metricsPath != "" {
		if err := WriteTextfile(r.metricsPath, summary, duration); err != nil {
			if r.logger != nil {
				r.logger.Warn("metrics textfile not written", "path", r.metricsPath, "err", err)
			}
		}
	}

	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
