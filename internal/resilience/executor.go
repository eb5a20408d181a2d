package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Classification tells the executor what to do with an error.
type Classification struct {
	Retryable     bool
	RecordFailure bool
}

// Classifier inspects an operation error.
type Classifier func(err error) Classification

// StatusError is returned by adapters for non-2xx responses so that the
// classifier can tell throttling from bad requests.
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.Status, e.Body)
}

// Executor runs operations with retries behind one circuit breaker per
// operation name. A nil Executor runs the operation once.
type Executor struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewExecutor creates an executor. A nil logger discards output.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		cfg:      cfg.normalize(),
		log:      logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs fn under the breaker for operation.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier Classifier) error {
	if fn == nil {
		return errors.New("resilience: operation callback is nil")
	}
	if e == nil {
		return fn(ctx)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = Transient
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, fn, classifier)
	}

	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, fn, classifier)
	})
	return err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classifier Classifier) error {
	backoff := e.cfg.RetryInitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable || attempt >= e.cfg.RetryMaxAttempts {
			return err
		}

		e.log.Warn("retrying operation",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}
}

func (e *Executor) breaker(op string, classifier Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[op]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn("circuit breaker state changed",
				slog.String("operation", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	e.breakers[op] = b
	return b
}

// IsCircuitOpen reports whether err was returned without calling the
// operation because its breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Transient retries network errors, throttling and server errors. Client
// errors are neither retried nor counted against the breaker.
func Transient(err error) Classification {
	if errors.Is(err, context.Canceled) {
		return Classification{}
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Status == 429:
			return Classification{Retryable: true, RecordFailure: false}
		case status.Status >= 500:
			return Classification{Retryable: true, RecordFailure: true}
		default:
			return Classification{}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Classification{Retryable: true, RecordFailure: true}
	}
	return Classification{RecordFailure: true}
}
