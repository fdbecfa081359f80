// Package analyze runs silence detection over whole WAV inputs and renders
// the results.
//
// An [Analyzer] reads an input block by block, feeds every block to a fresh
// [silence.Detector] and collects the transitions together with the silent
// regions they delimit. [Analyzer.Files] fans a batch of files out over a
// bounded worker pool.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/provider/level"
	"github.com/MrWong99/hush/pkg/silence"
)

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records detector activity and analysis latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer runs batch silence analysis. It holds no per-input state and is
// safe for concurrent use.
type Analyzer struct {
	cfg        config.DetectorConfig
	classifier level.Classifier
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// New returns an analyzer using the detector settings cfg and classifier c.
func New(cfg config.DetectorConfig, c level.Classifier, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:        cfg,
		classifier: c,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// File analyses the WAV file at path.
func (a *Analyzer) File(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("analyze: open %q: %w", path, err)
	}
	defer f.Close()
	return a.Reader(ctx, path, f)
}

// Reader analyses a WAV stream. name is reported as the result's source.
func (a *Analyzer) Reader(ctx context.Context, name string, r io.ReadSeeker) (res *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "analyze.reader", attribute.String("hush.source", name))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		if a.metrics != nil {
			a.metrics.RecordAnalysis(ctx, time.Since(start), status)
		}
		observe.EndSpan(span, err)
	}()

	wr, err := audio.NewWAVReader(r)
	if err != nil {
		return nil, fmt.Errorf("analyze: %s: %w", name, err)
	}
	format := wr.Format()

	det, err := a.detector(ctx, format)
	if err != nil {
		return nil, fmt.Errorf("analyze: %s: %w", name, err)
	}

	res = &Result{
		Source:      name,
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		Transitions: []Event{},
	}
	var (
		trs   []silence.Transition
		frame int64
		step  = a.cfg.StepSize
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, n, err := wr.ReadBlock(step)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("analyze: %s: %w", name, err)
		}
		if tr, ok := det.Step(block, audio.FramesToDuration(frame, format.SampleRate)); ok {
			trs = append(trs, tr)
			res.Transitions = append(res.Transitions, NewEvent(tr))
		}
		frame += int64(n)
		res.Blocks++
	}

	end := audio.FramesToDuration(frame, format.SampleRate)
	res.Duration = Seconds(end)
	res.Regions = Regions(trs, end)

	span.SetAttributes(
		attribute.Int("hush.blocks", res.Blocks),
		attribute.Int("hush.transitions", len(res.Transitions)),
	)
	observe.Logger(ctx).Debug("analysis complete",
		"source", name,
		"format", format.String(),
		"blocks", res.Blocks,
		"transitions", len(res.Transitions),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// detector builds a fresh detector for one input.
func (a *Analyzer) detector(ctx context.Context, format audio.Format) (*silence.Detector, error) {
	opts := []silence.Option{
		silence.WithClassifier(a.classifier),
		silence.WithLogger(a.logger),
	}
	if a.cfg.RefineFirstBlock {
		opts = append(opts, silence.WithFirstBlockRefinement())
	}
	if a.metrics != nil {
		opts = append(opts, silence.WithObserver(a.metrics.DetectorObserver(ctx, "analyze")))
	}
	return silence.New(a.cfg.Silence(float64(format.SampleRate), format.Channels), opts...)
}

// Files analyses paths with at most concurrency inputs in flight and returns
// the results in input order. The first failure cancels the remaining work.
// concurrency < 1 means one worker.
func (a *Analyzer) Files(ctx context.Context, paths []string, concurrency int) ([]*Result, error) {
	results := make([]*Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, p := range paths {
		g.Go(func() error {
			res, err := a.File(ctx, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
