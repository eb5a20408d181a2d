package workpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// Pool is the bounded worker pool shared by every fan-out stage of the process.
//
// Submissions never block: when every worker is busy the task runs in the
// submitting goroutine. Nested fan-outs (queries -> macro-sets -> term-sets)
// therefore cannot deadlock on a small pool, and the number of pool goroutines
// stays bounded by its size.
type Pool struct {
	pool *ants.Pool
	log  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used to report failed units.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.log = logger
		}
	}
}

// New creates a pool with size workers. A non-positive size defaults to
// runtime.NumCPU().
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	p := &Pool{
		pool: pool,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Cap returns the number of workers.
func (p *Pool) Cap() int {
	if p == nil || p.pool == nil {
		return 0
	}
	return p.pool.Cap()
}

// Release stops the workers. Later submissions run inline.
func (p *Pool) Release() {
	if p != nil && p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pool) submit(task func()) {
	if p == nil || p.pool == nil {
		task()
		return
	}
	if err := p.pool.Submit(task); err != nil {
		if !errors.Is(err, ants.ErrPoolOverload) && !errors.Is(err, ants.ErrPoolClosed) {
			p.log.Debug("submit failed, running inline", slog.Any("err", err))
		}
		task()
	}
}

func (p *Pool) logger() *slog.Logger {
	if p == nil || p.log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.log
}

// Failure describes one unit of work that returned an error or panicked.
type Failure struct {
	Index int
	Key   string
	Err   error
	Stack string
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Map runs fn for every item on the pool and waits for all of them.
//
// Successful results are returned in submission order. A failing unit never
// affects its siblings: its error (or recovered panic) is logged with the
// item key and returned as a Failure. Map itself never fails.
// A nil pool runs every item in the calling goroutine.
func Map[T, R any](
	ctx context.Context,
	p *Pool,
	stage string,
	items []T,
	key func(T) string,
	fn func(context.Context, T) (R, error),
) ([]R, []Failure) {
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]R, len(items))
	failures := make([]*Failure, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		p.submit(func() {
			defer wg.Done()
			results[i], failures[i] = runUnit(ctx, i, item, key, fn)
		})
	}
	wg.Wait()

	log := p.logger()
	out := make([]R, 0, len(items))
	var failed []Failure
	for i := range items {
		f := failures[i]
		if f == nil {
			out = append(out, results[i])
			continue
		}
		attrs := []any{
			slog.String("stage", stage),
			slog.String("item", f.Key),
			slog.Any("err", f.Err),
		}
		if f.Stack != "" {
			attrs = append(attrs, slog.String("stack", f.Stack))
		}
		log.Warn("task failed", attrs...)
		failed = append(failed, *f)
	}
	return out, failed
}

func runUnit[T, R any](
	ctx context.Context,
	index int,
	item T,
	key func(T) string,
	fn func(context.Context, T) (R, error),
) (res R, failure *Failure) {
	name := fmt.Sprintf("%d", index)
	if key != nil {
		name = key(item)
	}

	defer func() {
		if r := recover(); r != nil {
			var zero R
			res = zero
			failure = &Failure{
				Index: index,
				Key:   name,
				Err:   fmt.Errorf("%w: panic: %v", models.ErrTaskFailed, r),
				Stack: string(debug.Stack()),
			}
		}
	}()

	res, err := fn(ctx, item)
	if err != nil {
		return res, &Failure{Index: index, Key: name, Err: err}
	}
	return res, nil
}
