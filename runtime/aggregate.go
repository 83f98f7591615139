package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AggregatePolicy controls how a multi-source invocation treats
// individual source failures.
type AggregatePolicy int

const (
	// FailFast cancels the remaining sources on the first failure.
	FailFast AggregatePolicy = iota
	// ContinueOnError collects every source's outcome; partial success
	// is a success carrying the per-source errors.
	ContinueOnError
	// WaitAll lets every source finish and fails only when all of them
	// failed.
	WaitAll
)

func (p AggregatePolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case ContinueOnError:
		return "continue_on_error"
	case WaitAll:
		return "wait_all"
	default:
		return fmt.Sprintf("aggregate_policy(%d)", int(p))
	}
}

// SourceError ties a failure to the rule it came from.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string { return fmt.Sprintf("source %s: %v", e.Source, e.Err) }
func (e *SourceError) Unwrap() error { return e.Err }

// AggregateResult is the fan-out outcome: per-source flow results in a
// stable order plus whatever errors the policy let through.
type AggregateResult struct {
	Results map[string]*FlowResult
	Errors  []*SourceError
}

// Aggregator fans one flow invocation out over several rule runtimes.
type Aggregator struct {
	runtimes map[string]*Runtime
	policy   AggregatePolicy
	l        *slog.Logger
}

func NewAggregator(runtimes map[string]*Runtime, policy AggregatePolicy, l *slog.Logger) *Aggregator {
	return &Aggregator{runtimes: runtimes, policy: policy, l: l}
}

// Execute runs the named flow with the same parameters against every
// source. Results never mix across sources; each source's outcome is
// keyed by its rule name.
func (a *Aggregator) Execute(ctx context.Context, kind FlowKind, params map[string]any) (*AggregateResult, error) {
	names := make([]string, 0, len(a.runtimes))
	for name := range a.runtimes {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	agg := &AggregateResult{Results: make(map[string]*FlowResult, len(names))}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		rt := a.runtimes[name]
		g.Go(func() error {
			res, err := rt.Execute(gctx, kind, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.l.Warn("source failed", "source", name, "flow", kind, "error", err)
				agg.Errors = append(agg.Errors, &SourceError{Source: name, Err: err})
				if a.policy == FailFast {
					return err
				}
				return nil
			}
			agg.Results[name] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agg, err
	}

	sort.Slice(agg.Errors, func(i, j int) bool { return agg.Errors[i].Source < agg.Errors[j].Source })

	if a.policy == WaitAll && len(names) > 0 && len(agg.Results) == 0 {
		return agg, fmt.Errorf("all %d sources failed: %w", len(names), agg.Errors[0])
	}
	return agg, nil
}
