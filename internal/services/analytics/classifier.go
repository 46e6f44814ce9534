package analytics

import (
	"context"
	"fmt"
	"net/url"

	"TradeLoop/internal/domain/models"
	domsvc "TradeLoop/internal/domain/service"
)

// HTTPClassifier calls a model server hosting the offline-trained
// classifiers, one instance per model name.
type HTTPClassifier struct {
	base *HTTPServiceBase
	name string
}

func NewHTTPClassifier(base *HTTPServiceBase, name string) *HTTPClassifier {
	return &HTTPClassifier{base: base, name: name}
}

type predictResponse struct {
	Class         *int      `json:"class"`
	Probabilities []float64 `json:"probabilities"`
}

func (c *HTTPClassifier) Predict(ctx context.Context, in models.ClassifierInput) (models.ClassPrediction, error) {
	if in.Model == "" {
		in.Model = c.name
	}
	var resp predictResponse
	path := "/models/" + url.PathEscape(c.name) + "/predict"
	if err := c.base.PostJSONWithRetry(ctx, path, in, &resp); err != nil {
		return models.ClassPrediction{}, fmt.Errorf("predict %s: %w", c.name, err)
	}
	if resp.Class == nil {
		return models.ClassPrediction{}, fmt.Errorf("predict %s: response has no class", c.name)
	}
	return models.ClassPrediction{Class: *resp.Class, Probabilities: resp.Probabilities}, nil
}

var _ domsvc.Classifier = (*HTTPClassifier)(nil)
