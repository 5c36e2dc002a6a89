// Package classifier turns listings into feature vectors and asks a
// Classifier whether they violate policy.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/fault"
)

// Classifier maps a feature vector to a violation flag and its probability.
type Classifier interface {
	Classify(ctx context.Context, features []float64) (isViolation bool, probability float64, err error)
}

type Func func(ctx context.Context, features []float64) (bool, float64, error)

func (f Func) Classify(ctx context.Context, features []float64) (bool, float64, error) {
	return f(ctx, features)
}

// BuildFeatures returns [is_verified_seller, images_qty/10, len(description)/1000, category/100].
func BuildFeatures(isVerifiedSeller bool, imagesQty int, description string, category int) []float64 {
	verified := 0.0
	if isVerifiedSeller {
		verified = 1.0
	}
	return []float64{
		verified,
		float64(imagesQty) / 10.0,
		float64(len([]rune(description))) / 1000.0,
		float64(category) / 100.0,
	}
}

type Adapter struct {
	clf    Classifier
	logger *slog.Logger
}

func NewAdapter(clf Classifier, logger *slog.Logger) *Adapter {
	return &Adapter{clf: clf, logger: logger}
}

// Moderate classifies a listing. Classifier failures and out-of-range
// probabilities are transient unless the classifier itself reports a
// permanent fault.
func (a *Adapter) Moderate(ctx context.Context, l *catalog.Listing, s *catalog.Seller) (bool, float64, error) {
	features := BuildFeatures(s.IsVerifiedSeller, l.ImagesQty, l.Description, l.Category)
	a.logger.Info("predict request", "seller_id", s.ID, "item_id", l.ID, "features", features)

	isViolation, probability, err := a.clf.Classify(ctx, features)
	if err != nil {
		if fault.IsPermanent(err) {
			return false, 0, err
		}
		return false, 0, fault.Transient("classify", err)
	}
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return false, 0, fault.Transient("classify", fmt.Errorf("probability %v out of range [0, 1]", probability))
	}

	a.logger.Info("predict response", "item_id", l.ID, "is_violation", isViolation, "probability", probability)
	return isViolation, probability, nil
}
