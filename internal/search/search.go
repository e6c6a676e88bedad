// Package search implements the hybrid search operation executor: a
// dependency-ordered ("wave") runner over a shared context map, grounded
// directly on original_source/backend/airweave/search/executor.py's
// SearchExecutor — same ready-set loop, same lenient-missing-dependency
// rule, same optional-vs-required error handling, translated from a
// dict-based context to a typed Context plus an any-keyed Values map for
// operation-specific data.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/metrics"
)

// Operation is one step of a search plan.
type Operation interface {
	// Name uniquely identifies this operation within a plan.
	Name() string
	// DependsOn lists operation names that must run first. A name with no
	// corresponding Operation in the plan is treated as satisfied — the
	// same leniency the original executor applies, so a plan doesn't have
	// to declare every optional stage explicitly.
	DependsOn() []string
	// Optional marks a failure as non-fatal: the executor records the
	// error and continues with the remaining plan instead of aborting.
	Optional() bool
	// Run executes the operation against ctx, reading/writing ctx.Values.
	Run(ctx context.Context, sc *Context) error
}

// Context is the shared state threaded through a plan's operations.
type Context struct {
	Query         string
	Limit         int
	Offset        int
	ScoreThreshold *float64

	// Values holds operation-specific intermediate and final results
	// (expanded_queries, embeddings, filter, raw_results, final_results,
	// completion, ...), keyed by a name each operation owns.
	Values map[string]any

	Timings map[string]time.Duration
	Errors  []OperationError
}

// OperationError records a failed optional operation.
type OperationError struct {
	Operation string
	Err       error
}

// NewContext initializes a Context the way the original executor's
// _initialize_context does: common fields plus empty tracking slots.
func NewContext(query string, limit, offset int, scoreThreshold *float64) *Context {
	return &Context{
		Query:          query,
		Limit:          limit,
		Offset:         offset,
		ScoreThreshold: scoreThreshold,
		Values:         make(map[string]any),
		Timings:        make(map[string]time.Duration),
	}
}

// Executor runs a plan's operations in dependency order. It is stateless
// and safe to reuse across requests.
type Executor struct {
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New constructs an Executor.
func New(log *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{log: log, metrics: m}
}

// Execute runs every operation in plan against sc, in dependency order,
// returning the first required-operation error encountered. Optional
// operation failures are recorded on sc.Errors and do not stop execution.
func (e *Executor) Execute(ctx context.Context, plan []Operation, sc *Context) error {
	log := e.log.WithContext(ctx)
	executed := make(map[string]bool, len(plan))
	start := time.Now()

	for len(executed) < len(plan) {
		ready := readyOperations(plan, executed)
		if len(ready) == 0 {
			remaining := make([]string, 0)
			for _, op := range plan {
				if !executed[op.Name()] {
					remaining = append(remaining, op.Name())
				}
			}
			log.Warnf("search executor: cannot execute remaining operations: %v", remaining)
			break
		}

		for _, op := range ready {
			opStart := time.Now()
			err := op.Run(ctx, sc)
			elapsed := time.Since(opStart)
			sc.Timings[op.Name()] = elapsed

			if e.metrics != nil {
				e.metrics.SearchOperationDuration.WithLabelValues(op.Name()).Observe(elapsed.Seconds())
			}

			if err != nil {
				log.WithError(err).Errorf("search executor: operation %q failed", op.Name())
				sc.Errors = append(sc.Errors, OperationError{Operation: op.Name(), Err: err})
				if e.metrics != nil {
					e.metrics.SearchErrorsTotal.WithLabelValues(op.Name()).Inc()
				}

				if !op.Optional() {
					return fmt.Errorf("search operation %q failed: %w", op.Name(), err)
				}
				log.Infof("search executor: continuing after optional operation %q failed", op.Name())
			}

			executed[op.Name()] = true
		}
	}

	log.Infof("search executor: completed in %s, executed %d/%d operations", time.Since(start), len(executed), len(plan))
	return nil
}

// readyOperations returns every not-yet-executed operation whose
// dependencies are all either executed or absent from the plan —
// deliberately lenient, matching the original executor's reasoning that
// a dependency missing from the plan must be an optional stage the
// caller chose not to include.
func readyOperations(plan []Operation, executed map[string]bool) []Operation {
	exists := make(map[string]bool, len(plan))
	for _, op := range plan {
		exists[op.Name()] = true
	}

	var ready []Operation
	for _, op := range plan {
		if executed[op.Name()] {
			continue
		}
		satisfied := true
		for _, dep := range op.DependsOn() {
			if executed[dep] || !exists[dep] {
				continue
			}
			satisfied = false
			break
		}
		if satisfied {
			ready = append(ready, op)
		}
	}
	return ready
}
