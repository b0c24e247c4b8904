package node

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// TaskFunc computes the result of one named task from its input.
type TaskFunc func(ctx context.Context, input map[string]any) (any, error)

// DefaultTasks returns the tasks every node serves.
func DefaultTasks() map[string]TaskFunc {
	return map[string]TaskFunc{
		"sum":  Sum,
		"echo": Echo,
	}
}

// Sum adds the numeric inputs "a" and "b". Two integers produce an exact
// integer sum; anything else is added as float64.
func Sum(_ context.Context, input map[string]any) (any, error) {
	a, err := number(input, "a")
	if err != nil {
		return nil, err
	}
	b, err := number(input, "b")
	if err != nil {
		return nil, err
	}

	ai, aErr := a.Int64()
	bi, bErr := b.Int64()
	if aErr == nil && bErr == nil && !overflows(ai, bi) {
		return ai + bi, nil
	}

	af, err := a.Float64()
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", "a", err)
	}
	bf, err := b.Float64()
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", "b", err)
	}
	return af + bf, nil
}

func overflows(a, b int64) bool {
	return (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b)
}

// Echo returns its input unchanged.
func Echo(_ context.Context, input map[string]any) (any, error) {
	return input, nil
}

// number reads input[key] as a json.Number. Decoded messages carry
// json.Number; inputs built in process may hold Go numeric types.
func number(input map[string]any, key string) (json.Number, error) {
	switch v := input[key].(type) {
	case json.Number:
		return v, nil
	case float64:
		return json.Number(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case int:
		return json.Number(strconv.Itoa(v)), nil
	case int64:
		return json.Number(strconv.FormatInt(v, 10)), nil
	case nil:
		return "", fmt.Errorf("missing input %q", key)
	default:
		return "", fmt.Errorf("input %q is %T, want a number", key, v)
	}
}

func taskNames(tasks map[string]TaskFunc) []string {
	return slices.Sorted(maps.Keys(tasks))
}
