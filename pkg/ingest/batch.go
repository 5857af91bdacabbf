package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxLineSize bounds a single input line; invocation logs embed full
// response bodies.
const maxLineSize = 4 << 20

// Stats counts the outcomes of a batch.
type Stats struct {
	Lines      int64 `json:"lines"`
	Accrued    int64 `json:"accrued"`
	Duplicates int64 `json:"duplicates"`
	Malformed  int64 `json:"malformed"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

type counters struct {
	lines, accrued, duplicates, malformed, skipped, failed atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{
		Lines:      c.lines.Load(),
		Accrued:    c.accrued.Load(),
		Duplicates: c.duplicates.Load(),
		Malformed:  c.malformed.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
	}
}

// Run reads newline-delimited events from r, decodes each with decode and
// processes them on up to workers goroutines. Bad lines and per-event
// failures are logged and counted; the batch continues. Run returns an error
// only when reading fails or ctx ends.
func (p *Processor) Run(ctx context.Context, r io.Reader, decode Decoder, workers int) (Stats, error) {
	if workers <= 0 {
		workers = p.cfg.Get().Ingest.Workers
	}
	if workers <= 0 {
		workers = 1
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		c.lines.Add(1)
		// The scanner reuses its buffer.
		line = bytes.Clone(line)
		n := lineNo
		g.Go(func() error {
			p.runLine(gctx, n, line, decode, &c)
			return nil
		})
	}
	scanErr := sc.Err()
	_ = g.Wait()

	stats := c.stats()
	log.Info().
		Int64("lines", stats.Lines).
		Int64("accrued", stats.Accrued).
		Int64("duplicates", stats.Duplicates).
		Int64("malformed", stats.Malformed).
		Int64("skipped", stats.Skipped).
		Int64("failed", stats.Failed).
		Msg("ingest batch complete")

	if scanErr != nil {
		return stats, fmt.Errorf("read usage input: %w", scanErr)
	}
	return stats, ctx.Err()
}

func (p *Processor) runLine(ctx context.Context, n int, line []byte, decode Decoder, c *counters) {
	ev, err := decode(line)
	if errors.Is(err, ErrNotUsage) {
		c.skipped.Add(1)
		p.metrics.UsageEvent(ResultSkipped)
		return
	}
	if err != nil {
		c.malformed.Add(1)
		p.metrics.UsageEvent(ResultMalformed)
		log.Warn().Err(err).Int("line", n).Msg("dropping malformed usage line")
		return
	}
	res, err := p.Process(ctx, ev)
	switch {
	case errors.Is(err, ErrMalformedEvent):
		c.malformed.Add(1)
		log.Warn().Err(err).Int("line", n).Msg("dropping malformed usage event")
	case err != nil:
		c.failed.Add(1)
		log.Error().Err(err).Int("line", n).Str("principal", ev.Principal).Msg("usage event failed")
	case res.Duplicate:
		c.duplicates.Add(1)
	default:
		c.accrued.Add(1)
	}
}
