package metric

import (
	"context"
	"fmt"
)

// PassAtK estimates the probability that at least one of k samples drawn
// from n trials with c correct ones passes. Computed as
// 1 - C(n-c, k)/C(n, k) via an iterative product to avoid overflowing the
// binomial coefficients.
func PassAtK(n, c, k int) float64 {
	if n-c < k {
		return 1.0
	}
	product := 1.0
	for i := 0; i < k; i++ {
		product *= float64(n-c-i) / float64(n-i)
	}
	return 1.0 - product
}

// NewPassAtK returns an outcome metric computing pass@k over the boolean
// outcomes of one grader.
func NewPassAtK(graderID string, k int) OutcomeMetric {
	return OutcomeFunc(func(_ context.Context, trails map[string]Trails) (any, error) {
		group, ok := trails[graderID]
		if !ok {
			return nil, fmt.Errorf("no outcomes for grader %s", graderID)
		}
		n := len(group)
		c := 0
		for _, trail := range group {
			if trail.Outcome.Bool() {
				c++
			}
		}
		return PassAtK(n, c, k), nil
	})
}
