package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/CZERTAINLY/recon-relay/internal/log"
	"github.com/CZERTAINLY/recon-relay/internal/model"

	"github.com/google/uuid"
)

// Stage is a single scanner artifact to be parsed and delivered.
type Stage struct {
	Scanner model.Scanner
	Path    string
	Subnet  string
}

func (s Stage) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("scanner", s.Scanner.String()),
		slog.String("path", s.Path),
	}
	group := slog.GroupAttrs("stage", attrs...)
	return []slog.Attr{group}
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage  Stage
	RunID  string
	Hosts  int
	Report Report
	Err    error
}

// SortStages orders stages the way they are run: fast discovery (fscan)
// first, detailed enumeration (nmap) last. The order of artifacts of the
// same scanner is kept.
func SortStages(stages []Stage) []Stage {
	rank := make(map[model.Scanner]int)
	for i, s := range model.Scanners() {
		rank[s] = i
	}
	ret := slices.Clone(stages)
	slices.SortStableFunc(ret, func(a, b Stage) int {
		return rank[a.Scanner] - rank[b.Scanner]
	})
	return ret
}

// StageRunner runs stages one after another through a shared uploader.
type StageRunner struct {
	uploader model.Uploader
	cfg      model.Delivery
	stats    model.Stats
	sleep    SleepFunc
	failFast bool
}

func NewStageRunner(uploader model.Uploader, cfg model.Delivery, stats model.Stats) *StageRunner {
	if stats == nil {
		stats = nopStats{}
	}
	return &StageRunner{
		uploader: uploader,
		cfg:      cfg,
		stats:    stats,
		sleep:    sleep,
	}
}

// WithFailFast makes Run stop on the first failed stage.
func (r *StageRunner) WithFailFast(failFast bool) *StageRunner {
	r.failFast = failFast
	return r
}

// WithSleep replaces the timer based wait. This method exists for a unit testing only.
func (r *StageRunner) WithSleep(fn SleepFunc) *StageRunner {
	if fn != nil {
		r.sleep = fn
	}
	return r
}

// Run executes the stages in the given order. A failed stage is logged and
// the next one is started, unless fail fast was requested. The returned
// error joins the errors of all failed stages.
func (r *StageRunner) Run(ctx context.Context, stages []Stage) ([]StageResult, error) {
	results := make([]StageResult, 0, len(stages))
	var errs []error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result := r.run(ctx, stage)
		results = append(results, result)
		if result.Err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("%s stage %s: %w", stage.Scanner, stage.Path, result.Err))
		if r.failFast {
			break
		}
	}
	return results, errors.Join(errs...)
}

func (r *StageRunner) run(ctx context.Context, stage Stage) StageResult {
	result := StageResult{
		Stage: stage,
		RunID: uuid.NewString(),
	}
	ctx = log.ContextAttrs(ctx, slog.String("run_id", result.RunID))
	ctx = log.ContextAttrs(ctx, stage.LogAttrs()...)
	slog.InfoContext(ctx, "stage started")

	parser, err := NewParser(stage.Scanner, stage.Subnet)
	if err != nil {
		result.Err = err
		slog.ErrorContext(ctx, "stage failed", "error", err)
		return result
	}
	seq, err := parser.Parse(ctx, stage.Path)
	if err != nil {
		result.Err = err
		slog.ErrorContext(ctx, "stage failed", "error", err)
		return result
	}

	counted := func(yield func(model.Box) bool) {
		for box := range seq {
			result.Hosts++
			r.stats.AddHosts(1)
			if !yield(box) {
				return
			}
		}
	}

	report, err := NewPipeline(r.uploader, r.cfg).
		WithStats(r.stats).
		WithSleep(r.sleep).
		Send(ctx, iter.Seq[model.Box](counted))
	result.Report = report
	if err != nil {
		result.Err = err
		slog.ErrorContext(ctx, "stage failed", "error", err, "report", report)
		return result
	}
	slog.InfoContext(ctx, "stage finished", "hosts", result.Hosts, "report", report)
	return result
}
