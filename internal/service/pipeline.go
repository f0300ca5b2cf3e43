package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// Report summarizes a Send call. It is valid on failure too.
type Report struct {
	Boxes    int // boxes accepted by the uploader
	Batches  int // batches handed over, including the failed one
	Attempts int // upload calls, including retries
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("boxes", r.Boxes),
		slog.Int("batches", r.Batches),
		slog.Int("attempts", r.Attempts),
	)
}

// Pipeline batches a stream of boxes and hands the batches to an uploader.
// A full batch is flushed once the next box arrives, so the pause between
// batches is never taken after the last one.
type Pipeline struct {
	uploader model.Uploader
	cfg      model.Delivery
	stats    model.Stats
	sleep    SleepFunc
}

func NewPipeline(uploader model.Uploader, cfg model.Delivery) *Pipeline {
	return &Pipeline{
		uploader: uploader,
		cfg:      cfg,
		stats:    nopStats{},
		sleep:    sleep,
	}
}

// WithStats makes the pipeline count batches and attempts.
func (p *Pipeline) WithStats(s model.Stats) *Pipeline {
	if s != nil {
		p.stats = s
	}
	return p
}

// WithSleep replaces the timer based wait. This method exists for a unit testing only.
func (p *Pipeline) WithSleep(fn SleepFunc) *Pipeline {
	if fn != nil {
		p.sleep = fn
	}
	return p
}

// Send consumes seq and delivers it in batches of at most BatchSize boxes.
// The first batch which fails in all attempts stops the processing, its
// *DeliveryError is returned and no further batch is sent.
func (p *Pipeline) Send(ctx context.Context, seq iter.Seq[model.Box]) (Report, error) {
	var report Report
	batchSize := max(1, p.cfg.BatchSize)
	batch := make([]model.Box, 0, batchSize)

	flush := func() error {
		idx := report.Batches
		report.Batches++
		p.stats.IncBatches()
		attempts, err := p.deliver(ctx, idx, batch)
		report.Attempts += attempts
		if err != nil {
			p.stats.IncErrBatches()
			return err
		}
		report.Boxes += len(batch)
		p.stats.AddBoxesSent(len(batch))
		slog.DebugContext(ctx, "batch sent", "batch", idx, "boxes", len(batch))
		batch = make([]model.Box, 0, batchSize)
		return nil
	}

	// a full batch is sent at once, the pause is owed until the next box
	// shows up, so nothing waits after the final batch
	var pauseOwed bool
	for box := range seq {
		if pauseOwed {
			if err := p.sleep(ctx, p.cfg.Pause()); err != nil {
				return report, fmt.Errorf("waiting between batches: %w", err)
			}
			pauseOwed = false
		}
		batch = append(batch, box)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return report, err
			}
			pauseOwed = true
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return report, err
		}
	}

	if report.Batches == 0 {
		slog.InfoContext(ctx, "nothing to send")
	} else {
		slog.InfoContext(ctx, "delivery finished", "report", report)
	}
	return report, nil
}

type nopStats struct{}

func (nopStats) AddHosts(int)     {}
func (nopStats) AddBoxesSent(int) {}
func (nopStats) IncBatches()      {}
func (nopStats) IncErrBatches()   {}
func (nopStats) IncAttempts()     {}
func (nopStats) IncRetries()      {}
func (nopStats) Stats() iter.Seq2[string, string] {
	return func(func(string, string) bool) {}
}
