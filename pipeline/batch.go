package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/ilopt/il"
)

var (
	ErrDeadlineExceeded = errors.New("method deadline exceeded")
	ErrPanic            = errors.New("panic while optimizing method")
)

// Outcome is the result of one method in a batch. Exactly one of Result
// and Err is set.
type Outcome struct {
	Method   *il.MethodBody
	Result   *Result
	Err      error
	Duration time.Duration
}

// Batch optimizes many methods concurrently. Every method runs its own
// pipeline; a failure, panic or timeout is confined to its Outcome.
type Batch struct {
	Workers       int           // <= 0 uses GOMAXPROCS
	MethodTimeout time.Duration // 0 disables the per-method deadline
	Options       Options
	Logger        commonlog.Logger
}

// Run optimizes methods and returns their outcomes in input order. The
// Options.Writer of the batch is not used, since it would be shared by
// concurrent methods; debug events are in each Result.Output.
func (b *Batch) Run(ctx context.Context, methods []*il.MethodBody) []Outcome {
	log := b.Logger
	if log == nil {
		log = commonlog.GetLogger("ilopt.pipeline")
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	opts := b.Options
	opts.Writer = nil

	outcomes := make([]Outcome, len(methods))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			start := time.Now()
			res, err := b.runOne(ctx, m, opts)
			outcomes[i] = Outcome{Method: m, Result: res, Err: err, Duration: time.Since(start)}

			if err != nil {
				log.Errorf("%s: %s", m.FullName(), err)
			} else if res.Stats != nil {
				log.Infof("%s: %d -> %d bytes, %d -> %d locals",
					m.FullName(), m.CodeSize(), res.Body.CodeSize(), len(m.Locals), len(res.Body.Locals))
			} else {
				log.Debugf("%s: linearized", m.FullName())
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type done struct {
	res *Result
	err error
}

func (b *Batch) runOne(ctx context.Context, m *il.MethodBody, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.MethodTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.MethodTimeout)
		defer cancel()
	}

	ch := make(chan done, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- done{err: fmt.Errorf("%s: %w: %v", m.FullName(), ErrPanic, r)}
			}
		}()
		res, err := OptimizeMethod(m, opts)
		ch <- done{res, err}
	}()

	select {
	case d := <-ch:
		return d.res, d.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: after %s: %w", m.FullName(), b.MethodTimeout, ErrDeadlineExceeded)
		}
		return nil, ctx.Err()
	}
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Methods   int
	Failed    int
	Changed   int
	BytesIn   uint32
	BytesOut  uint32
	LocalsIn  int
	LocalsOut int
}

// Summarize totals outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Methods++
		if o.Err != nil {
			s.Failed++
			continue
		}
		s.BytesIn += o.Method.CodeSize()
		s.BytesOut += o.Result.Body.CodeSize()
		s.LocalsIn += len(o.Method.Locals)
		s.LocalsOut += len(o.Result.Body.Locals)
		if o.Result.Stats != nil && o.Result.Stats.Changed() {
			s.Changed++
		}
	}
	return s
}
