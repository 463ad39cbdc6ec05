package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/nerrad567/esn-edge-sensor/internal/dataset"
)

// Centroid is a nearest-centroid classifier over the per-axis mean of a
// sequence.
type Centroid struct {
	Labels    []int                       `json:"labels"`
	Centroids [][dataset.Features]float64 `json:"centroids"`
}

// LoadCentroid parses a JSON centroid model.
func LoadCentroid(blob []byte) (Predictor, error) {
	var c Centroid
	if err := json.Unmarshal(blob, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if len(c.Labels) == 0 || len(c.Labels) != len(c.Centroids) {
		return nil, fmt.Errorf("%w: %d labels for %d centroids", ErrInvalidModel, len(c.Labels), len(c.Centroids))
	}
	return &c, nil
}

// CentroidLoader loads JSON centroid models.
var CentroidLoader Loader = LoaderFunc(LoadCentroid)

// Predict returns the label of the centroid nearest to the sequence mean.
func (c *Centroid) Predict(seq dataset.Sequence) (int, error) {
	if len(seq) == 0 {
		return 0, ErrEmptyInput
	}

	var mean [dataset.Features]float64
	for _, row := range seq {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(seq))
	}

	best, bestDist := 0, math.Inf(1)
	for i, centroid := range c.Centroids {
		var d float64
		for j := range centroid {
			diff := mean[j] - centroid[j]
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return c.Labels[best], nil
}
