// Package model holds the replaceable predictor that classifies a measurement
// sequence on the sensor layer.
package model

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nerrad567/esn-edge-sensor/internal/dataset"
)

// Sentinel errors.
var (
	ErrSizeMismatch = errors.New("model: decoded size does not match declared size")
	ErrDecode       = errors.New("model: invalid base64 payload")
	ErrInvalidModel = errors.New("model: invalid model")
	ErrEmptyInput   = errors.New("model: empty sequence")
)

// Predictor maps a sequence to a label.
type Predictor interface {
	Predict(seq dataset.Sequence) (int, error)
}

// Loader turns a model blob into a Predictor.
type Loader interface {
	Load(blob []byte) (Predictor, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(blob []byte) (Predictor, error)

// Load calls f.
func (f LoaderFunc) Load(blob []byte) (Predictor, error) { return f(blob) }

// Decode base64-decodes a model blob and checks it against the declared size.
func Decode(b64 string, size int) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(blob) != size {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, len(blob), size)
	}
	return blob, nil
}
