package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yash/vesselwatch/internal/feed"
	"github.com/yash/vesselwatch/internal/metrics"
)

// Handler applies a decoded report.
type Handler interface {
	Handle(ctx context.Context, r Report) error
}

// ProcessorConfig sizes the worker pool.
type ProcessorConfig struct {
	Workers   int // shards; reports for one station always land on the same shard
	QueueSize int // per-shard buffer
}

// DefaultProcessorConfig returns the defaults used when config leaves the
// pool unsized.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{Workers: 4, QueueSize: 256}
}

// Processor decodes upstream frames and fans reports out to a fixed pool of
// workers sharded by station id, preserving per-vessel order while
// different vessels proceed in parallel.
type Processor struct {
	handler Handler
	config  ProcessorConfig
	logger  *slog.Logger
}

// NewProcessor creates a processor. Zero config fields take defaults.
func NewProcessor(h Handler, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	def := DefaultProcessorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{handler: h, config: cfg, logger: logger}
}

// Run consumes in until it is closed or ctx is done, then waits for the
// workers to drain what was already dispatched.
func (p *Processor) Run(ctx context.Context, in <-chan feed.Envelope) error {
	g, gctx := errgroup.WithContext(ctx)

	shards := make([]chan Report, p.config.Workers)
	for i := range shards {
		ch := make(chan Report, p.config.QueueSize)
		shards[i] = ch
		g.Go(func() error {
			p.work(gctx, ch)
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case env, ok := <-in:
				if !ok {
					return nil
				}
				rep, ok := p.decode(env)
				if !ok {
					continue
				}
				select {
				case shards[shardFor(rep.Station(), len(shards))] <- rep:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	return g.Wait()
}

func (p *Processor) decode(env feed.Envelope) (Report, bool) {
	metrics.ReportsReceived.Inc()
	rep, err := Decode(env)
	if err == nil {
		return rep, true
	}
	metrics.ReportsDropped.Inc()
	if errors.Is(err, ErrUnsupported) {
		p.logger.Debug("frame ignored", "err", err)
	} else {
		p.logger.Warn("dropping malformed frame", "err", err, "bytes", len(env.Data))
	}
	return nil, false
}

func (p *Processor) work(ctx context.Context, ch <-chan Report) {
	for rep := range ch {
		start := time.Now()
		if err := p.handler.Handle(ctx, rep); err != nil {
			metrics.ReportsFailed.Inc()
			p.logger.Error("report failed", "station", rep.Station(), "err", err)
		}
		metrics.ReportLatency.ObserveSince(start)
	}
}

func shardFor(station string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(station))
	return int(h.Sum32() % uint32(n))
}
