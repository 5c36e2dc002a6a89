package classifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildFeatures(t *testing.T) {
	f := BuildFeatures(true, 5, "Need moderation", 10)

	assert.Equal(t, []float64{1, 0.5, 0.015, 0.1}, f)
}

func TestDefaultModel(t *testing.T) {
	m := DefaultModel()
	ctx := context.Background()

	violation, p, err := m.Classify(ctx, BuildFeatures(false, 0, "Sample description", 10))
	require.NoError(t, err)
	assert.True(t, violation)
	assert.Greater(t, p, 0.5)

	violation, p, err = m.Classify(ctx, BuildFeatures(true, 10, "Sample description", 10))
	require.NoError(t, err)
	assert.False(t, violation)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.Less(t, p, 0.5)
}

func TestLogisticFeatureMismatch(t *testing.T) {
	_, _, err := DefaultModel().Classify(context.Background(), []float64{1})
	assert.Error(t, err)
}

func TestParseLogistic(t *testing.T) {
	m, err := ParseLogistic("1, -2, 0.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, m.Weights)
	assert.Equal(t, 0.5, m.Bias)

	_, err = ParseLogistic("1")
	assert.Error(t, err)
	_, err = ParseLogistic("1,abc")
	assert.Error(t, err)
	_, err = ParseLogistic("NaN,1")
	assert.Error(t, err)
	_, err = ParseLogistic("1,+Inf")
	assert.Error(t, err)
}

func TestAdapterModerate(t *testing.T) {
	var got []float64
	a := NewAdapter(Func(func(ctx context.Context, features []float64) (bool, float64, error) {
		got = features
		return true, 0.92, nil
	}), testLogger())

	l := &catalog.Listing{ID: 7, SellerID: 1, Description: "Need moderation", Category: 10}
	s := &catalog.Seller{ID: 1}

	violation, p, err := a.Moderate(context.Background(), l, s)
	require.NoError(t, err)
	assert.True(t, violation)
	assert.Equal(t, 0.92, p)
	assert.Equal(t, []float64{0, 0, 0.015, 0.1}, got)
}

func TestAdapterErrorsAreTransient(t *testing.T) {
	a := NewAdapter(Func(func(ctx context.Context, features []float64) (bool, float64, error) {
		return false, 0, errors.New("temporary model error")
	}), testLogger())

	_, _, err := a.Moderate(context.Background(), &catalog.Listing{ID: 7}, &catalog.Seller{ID: 1})
	assert.ErrorIs(t, err, fault.ErrTransient)
	assert.False(t, fault.IsPermanent(err))
	assert.Equal(t, "classify: temporary model error", err.Error())
}

func TestAdapterKeepsPermanentErrors(t *testing.T) {
	a := NewAdapter(Func(func(ctx context.Context, features []float64) (bool, float64, error) {
		return false, 0, fault.NotFound("seller %d", 1)
	}), testLogger())

	_, _, err := a.Moderate(context.Background(), &catalog.Listing{ID: 7}, &catalog.Seller{ID: 1})
	assert.True(t, fault.IsPermanent(err))
}

func TestAdapterRejectsProbabilityOutOfRange(t *testing.T) {
	a := NewAdapter(Func(func(ctx context.Context, features []float64) (bool, float64, error) {
		return true, 1.7, nil
	}), testLogger())

	_, _, err := a.Moderate(context.Background(), &catalog.Listing{ID: 7}, &catalog.Seller{ID: 1})
	assert.ErrorIs(t, err, fault.ErrTransient)
}

func TestAdapterRejectsNaNProbability(t *testing.T) {
	a := NewAdapter(Func(func(ctx context.Context, features []float64) (bool, float64, error) {
		return false, math.NaN(), nil
	}), testLogger())

	_, _, err := a.Moderate(context.Background(), &catalog.Listing{ID: 7}, &catalog.Seller{ID: 1})
	assert.ErrorIs(t, err, fault.ErrTransient)
	assert.False(t, fault.IsPermanent(err))
}
