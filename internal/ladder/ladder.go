// Package ladder runs an ordered list of mutation strategies against one
// element until one of them produces a result that passes verification.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/quill/internal/page"
	"go.uber.org/zap"
)

// Outcome classifies a single strategy attempt.
type Outcome string

const (
	// Accepted means the strategy claimed success and verification passed.
	Accepted Outcome = "accepted"
	// Rejected means the strategy claimed success but verification failed.
	Rejected Outcome = "rejected"
	// Declined means the strategy reported it did not succeed.
	Declined Outcome = "declined"
	// Errored means the strategy returned an error.
	Errored Outcome = "errored"
)

// Observer is told about every attempt. Metrics hang off it.
type Observer interface {
	StrategyAttempt(goal, strategy string, outcome Outcome, took time.Duration)
}

// Strategy is one way of getting value into an element.
type Strategy[V any] struct {
	Name    string
	Attempt func(ctx context.Context, el page.Element, value V) (bool, error)
}

// FillStrategyExhaustedError is returned when no strategy was accepted.
type FillStrategyExhaustedError struct {
	Goal     string
	Attempts int
}

func (e *FillStrategyExhaustedError) Error() string {
	return fmt.Sprintf("all %d %s fill strategies failed", e.Attempts, e.Goal)
}

// Result names the accepted strategy.
type Result struct {
	Strategy string
	Attempts int
}

// Ladder is the generic runner. Verify decides, after PostWait, whether the
// element now holds what was asked for.
type Ladder[V any] struct {
	Goal       string
	Strategies []Strategy[V]
	Verify     func(ctx context.Context, el page.Element, value V) (bool, error)
	PostWait   time.Duration
	Sleeper    page.Sleeper
	Logger     *zap.Logger
	Observer   Observer
}

// Run tries each strategy in order. A strategy error is logged and the next
// strategy runs; only a cancelled context or a vanished page stops the
// ladder early.
func (l *Ladder[V]) Run(ctx context.Context, el page.Element, value V) (Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("goal", l.Goal))

	for i, s := range l.Strategies {
		attempt := i + 1
		slog := logger.With(zap.String("strategy", s.Name), zap.Int("attempt", attempt))
		start := time.Now()

		ok, err := s.Attempt(ctx, el, value)
		if err != nil {
			if fatal(ctx, err) {
				return Result{}, err
			}
			slog.Warn("Fill strategy failed.", zap.Error(err))
			l.observe(s.Name, Errored, start)
			continue
		}
		if !ok {
			slog.Debug("Fill strategy declined.")
			l.observe(s.Name, Declined, start)
			continue
		}

		if err := l.Sleeper.Sleep(ctx, l.PostWait); err != nil {
			return Result{}, err
		}
		verified, err := l.Verify(ctx, el, value)
		if err != nil {
			if fatal(ctx, err) {
				return Result{}, err
			}
			slog.Warn("Fill verification failed.", zap.Error(err))
			l.observe(s.Name, Errored, start)
			continue
		}
		if !verified {
			slog.Info("Fill strategy claimed success but verification rejected it.")
			l.observe(s.Name, Rejected, start)
			continue
		}

		slog.Info("Fill strategy accepted.")
		l.observe(s.Name, Accepted, start)
		return Result{Strategy: s.Name, Attempts: attempt}, nil
	}
	return Result{}, &FillStrategyExhaustedError{Goal: l.Goal, Attempts: len(l.Strategies)}
}

func (l *Ladder[V]) observe(strategy string, o Outcome, start time.Time) {
	if l.Observer != nil {
		l.Observer.StrategyAttempt(l.Goal, strategy, o, time.Since(start))
	}
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, page.ErrPageGone)
}
