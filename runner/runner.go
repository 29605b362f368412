package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mail-attachment-extractor/extractor"
	"github.com/dhcgn/mail-attachment-extractor/stats"
)

type StageFunc func(context.Context) error

// Runner drives extraction stages and fans their events out to stats
// subscribers. Every subscriber sees every event in emission order.
type Runner struct {
	logger *slog.Logger
	source stats.Source

	ctx    context.Context
	cancel context.CancelFunc

	subMu       sync.Mutex
	subscribers []chan stats.Event

	stages []namedStage

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

type namedStage struct {
	name string
	fn   StageFunc
}

func New(parent context.Context, source stats.Source, logger *slog.Logger) *Runner {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		logger: logger,
		source: source,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) EmitEvent(evt stats.Event) {
	if evt.Source == "" {
		evt.Source = r.source
	}
	r.subMu.Lock()
	subs := r.subscribers
	r.subMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// HandleEvent forwards extractor progress into the stats stream.
func (r *Runner) HandleEvent(evt extractor.Event) {
	switch e := evt.(type) {
	case extractor.MessageFetchEvent:
		r.EmitEvent(stats.Event{Type: stats.EventTypePageFetched, StartIndex: e.StartIndex, PageSize: e.PageSize})
	case extractor.AttachmentWriteEvent:
		r.EmitEvent(stats.Event{Type: stats.EventTypeWritten, MessageID: e.MessageID, StoredName: e.StoredName, Detail: e.SourceName})
	}
}

// SubscribeStats must be called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// AddStage registers fn to run concurrently once Start is called.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, namedStage{name: name, fn: fn})
}

func (r *Runner) Start() error {
	r.since = time.Now()

	for _, stage := range r.stages {
		r.workWG.Add(1)
		go func(stage namedStage) {
			defer r.workWG.Done()
			if err := stage.fn(r.ctx); err != nil {
				r.EmitEvent(stats.Event{Type: stats.EventTypeError, Err: err, Detail: stage.name})
				r.fail(fmt.Errorf("%s stage: %w", stage.name, err))
			}
		}(stage)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subscribers {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
