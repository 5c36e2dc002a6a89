package classifier

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Logistic is a binary logistic regression: p = sigmoid(w·x + b).
type Logistic struct {
	Weights   []float64
	Bias      float64
	Threshold float64
}

// DefaultModel flags unverified sellers with fewer than two images.
func DefaultModel() *Logistic {
	return &Logistic{
		Weights:   []float64{-8, -10, 0.1, 0.05},
		Bias:      1.6,
		Threshold: 0.5,
	}
}

// ParseLogistic reads "w1,w2,...,wn,bias".
func ParseLogistic(s string) (*Logistic, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("model weights %q: need at least one weight and a bias", s)
	}

	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("model weights %q: %w", s, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("model weights %q: %v is not finite", s, v)
		}
		values[i] = v
	}

	return &Logistic{
		Weights:   values[:len(values)-1],
		Bias:      values[len(values)-1],
		Threshold: 0.5,
	}, nil
}

func (m *Logistic) Classify(ctx context.Context, features []float64) (bool, float64, error) {
	if len(features) != len(m.Weights) {
		return false, 0, fmt.Errorf("model expects %d features, got %d", len(m.Weights), len(features))
	}

	z := m.Bias
	for i, x := range features {
		z += m.Weights[i] * x
	}
	p := 1 / (1 + math.Exp(-z))

	return p >= m.Threshold, p, nil
}
