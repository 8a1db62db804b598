// Package batch runs a processor over every item of a JSON array with
// per-item failure isolation, collapsing N round trips into one request.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrInvalidItems is returned when the items payload is null, empty, or
// not a JSON array of the expected shape.
var ErrInvalidItems = errors.New("invalid batch items")

// ItemResult is the outcome of one item.
type ItemResult struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Result aggregates a whole batch. Success means zero failures; partial
// failure is reported inside the payload, never as a transport error.
type Result struct {
	Success      bool         `json:"success"`
	TotalItems   int          `json:"totalItems"`
	SuccessCount int          `json:"successCount"`
	FailCount    int          `json:"failCount"`
	Results      []ItemResult `json:"results"`
}

// Options customizes a batch run. All fields are optional.
type Options[T any] struct {
	// Identify labels an item in its result record. Defaults to the item's
	// zero-based index.
	Identify func(item T) string
	// Setup runs exactly once before the first item. If it fails the batch
	// aborts: no items run and Teardown is not called.
	Setup func(ctx context.Context) error
	// Teardown runs exactly once after the last item, even if every item
	// failed. Typical use: resume host-side background processing that
	// Setup suspended for the duration of the batch.
	Teardown func(ctx context.Context)
}

// Processor handles one item.
type Processor[T any] func(ctx context.Context, item T) (any, error)

// Run parses itemsJSON into []T and applies processor to each item in
// order. A failing item is recorded and never prevents later items from
// running.
func Run[T any](ctx context.Context, log zerolog.Logger, itemsJSON json.RawMessage, processor Processor[T], opts Options[T]) (Result, error) {
	items, err := parseItems[T](itemsJSON)
	if err != nil {
		return Result{}, err
	}

	if opts.Setup != nil {
		if err := opts.Setup(ctx); err != nil {
			return Result{}, fmt.Errorf("batch setup: %w", err)
		}
	}
	if opts.Teardown != nil {
		defer opts.Teardown(ctx)
	}

	results := make([]ItemResult, 0, len(items))
	failCount := 0

	for i, item := range items {
		target := fmt.Sprintf("%d", i)
		if opts.Identify != nil {
			target = opts.Identify(item)
		}

		data, err := runOne(ctx, processor, item)
		if err != nil {
			failCount++
			log.Warn().Str("target", target).Err(err).Msg("batch item failed")
			results = append(results, ItemResult{Target: target, Error: err.Error()})
			continue
		}

		results = append(results, ItemResult{Target: target, Success: true, Data: data})
	}

	return Result{
		Success:      failCount == 0,
		TotalItems:   len(items),
		SuccessCount: len(items) - failCount,
		FailCount:    failCount,
		Results:      results,
	}, nil
}

// runOne isolates a single item, converting processor panics into errors
// so one bad item cannot take down the batch.
func runOne[T any](ctx context.Context, processor Processor[T], item T) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panicked: %v", rec)
		}
	}()
	return processor(ctx, item)
}

// parseItems validates and decodes the raw payload before any setup runs.
func parseItems[T any](itemsJSON json.RawMessage) ([]T, error) {
	if len(itemsJSON) == 0 || string(itemsJSON) == "null" {
		return nil, fmt.Errorf("%w: items are missing", ErrInvalidItems)
	}

	var items []T
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItems, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items array is empty", ErrInvalidItems)
	}

	return items, nil
}
